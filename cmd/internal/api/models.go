package api

import (
	"time"

	"fieldquest/cmd/internal/progress"
	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/internal/share"
)

type createQuestRequest struct {
	Title   string `json:"title" validate:"required,max=200"`
	Private bool   `json:"private"`
}

type addMappingRequest struct {
	TaxonID string `json:"taxon_id" validate:"required,max=64"`
	Label   string `json:"label" validate:"max=200"`
}

type createShareRequest struct {
	GuestName        *string `json:"guest_name" validate:"omitempty,max=64"`
	ExpiresInSeconds *int64  `json:"expires_in_seconds" validate:"omitempty,gt=0"`
}

type questResponse struct {
	Quest    quest.Quest     `json:"quest"`
	Mappings []quest.Mapping `json:"mappings"`
}

type createShareResponse struct {
	Share share.Share `json:"share"`
	// Token is only ever returned here.
	Token string `json:"token"`
}

type sharesResponse struct {
	Shares []share.Share `json:"shares"`
}

// guestShareResponse is what a token holder sees about their own share.
type guestShareResponse struct {
	ShareID     string          `json:"share_id"`
	DisplayName string          `json:"display_name"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	Quest       quest.Quest     `json:"quest"`
	Mappings    []quest.Mapping `json:"mappings"`
}

type progressResponse struct {
	Progress progress.Progress `json:"progress"`
}

type aggregateResponse struct {
	QuestID    string               `json:"quest_id"`
	Aggregates []progress.Aggregate `json:"aggregates"`
}

type leaderboardResponse struct {
	QuestID string                      `json:"quest_id"`
	Entries []progress.LeaderboardEntry `json:"entries"`
}

type detailedResponse struct {
	QuestID string              `json:"quest_id"`
	Entries []progress.Detailed `json:"entries"`
}
