// Package progress records which share found which mapping and derives the
// quest views (aggregate, detailed timeline, leaderboard) from those rows.
//
// Derived views are always recomputed from the stored rows and never cached
// independently, so they cannot drift from Progress.
package progress

import (
	"fmt"
	"time"

	"fieldquest/cmd/internal/fault"
	"fieldquest/cmd/internal/share"
	eventsv1 "fieldquest/shared/contracts/events/v1"
)

var (
	ErrInvalidInput = fmt.Errorf("progress: invalid input: %w", fault.ErrValidation)
	ErrNotFound     = fmt.Errorf("progress: %w", fault.ErrNotFound)
	ErrForbidden    = fmt.Errorf("progress: not the quest owner: %w", fault.ErrForbidden)
	// ErrCrossQuest rejects a share acting on a mapping of another quest. It
	// reads as not found so a token cannot probe other quests' mappings.
	ErrCrossQuest = fmt.Errorf("progress: mapping belongs to another quest: %w", fault.ErrNotFound)
	// ErrDuplicate means two live rows exist for one (share, mapping) pair.
	ErrDuplicate = fmt.Errorf("progress: duplicate row: %w", fault.ErrConflict)
)

// Progress is one "observed" record. At most one exists per (share, mapping).
type Progress struct {
	ID         string    `json:"id"`
	ShareID    string    `json:"share_id"`
	MappingID  string    `json:"mapping_id"`
	ObservedAt time.Time `json:"observed_at"`
}

// Aggregate is the per-mapping summary; it is also the live event payload.
type Aggregate = eventsv1.Aggregate

// Detailed is one Progress row enriched for timeline views.
type Detailed struct {
	ProgressID  string    `json:"progress_id"`
	ShareID     string    `json:"share_id"`
	MappingID   string    `json:"mapping_id"`
	TaxonID     string    `json:"taxon_id"`
	DisplayName string    `json:"display_name"`
	ObservedAt  time.Time `json:"observed_at"`
}

// LeaderboardEntry ranks one share of a quest.
type LeaderboardEntry struct {
	Rank           int        `json:"rank"`
	ShareID        string     `json:"share_id"`
	Kind           share.Kind `json:"kind"`
	DisplayName    string     `json:"display_name"`
	Count          int        `json:"count"`
	InvitedAt      time.Time  `json:"invited_at"`
	HasAccessed    bool       `json:"has_accessed"`
	LastProgressAt *time.Time `json:"last_progress_at,omitempty"`
	Revoked        bool       `json:"revoked,omitempty"`
}
