// Package quest owns quests and their species mappings.
//
// Only the owner mutates a quest. Deleting a quest removes its mappings,
// shares and progress; removing a mapping removes its progress.
package quest

import (
	"fmt"
	"time"

	"fieldquest/cmd/internal/fault"
)

var (
	ErrInvalidInput = fmt.Errorf("quest: invalid input: %w", fault.ErrValidation)
	ErrNotFound     = fmt.Errorf("quest: %w", fault.ErrNotFound)
	ErrForbidden    = fmt.Errorf("quest: not the owner: %w", fault.ErrForbidden)
	ErrDuplicate    = fmt.Errorf("quest: mapping already exists: %w", fault.ErrConflict)
)

// Quest is a named collection of target species.
type Quest struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	OwnerName string    `json:"owner_name"`
	Title     string    `json:"title"`
	Private   bool      `json:"private"`
	CreatedAt time.Time `json:"created_at"`
}

// OwnedBy reports whether userID owns q.
func (q Quest) OwnedBy(userID string) bool {
	return userID != "" && q.OwnerID == userID
}

// Mapping binds one species to one quest. Immutable once created.
type Mapping struct {
	ID        string    `json:"id"`
	QuestID   string    `json:"quest_id"`
	TaxonID   string    `json:"taxon_id"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
