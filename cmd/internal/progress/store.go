package progress

import (
	"context"
	"time"

	"fieldquest/cmd/internal/share"
)

// AggregateRow is one mapping of a quest with its raw counts. The Last*
// fields describe the most recent finder and are empty when Count is 0.
type AggregateRow struct {
	MappingID      string
	TaxonID        string
	Label          string
	Count          int
	LastObservedAt *time.Time
	LastShareKind  share.Kind
	LastGuestName  *string
}

// DetailedRow is one Progress row joined with its mapping and share.
type DetailedRow struct {
	Progress
	TaxonID   string
	ShareKind share.Kind
	GuestName *string
}

// ShareRow is one share of a quest with its observation totals.
type ShareRow struct {
	ShareID        string
	Kind           share.Kind
	GuestName      *string
	InvitedAt      time.Time
	AccessedAt     *time.Time
	RevokedAt      *time.Time
	Count          int
	LastProgressAt *time.Time
}

// Store is the relational boundary for Progress.
type Store interface {
	// Upsert stores p or, when a row exists for (ShareID, MappingID), moves
	// its timestamp forward. It is atomic per pair and returns the live row.
	Upsert(ctx context.Context, p Progress) (Progress, error)
	Get(ctx context.Context, id string) (Progress, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteByPair(ctx context.Context, shareID, mappingID string) (bool, error)

	// SelectAggregates returns every mapping of the quest in creation order.
	SelectAggregates(ctx context.Context, questID string) ([]AggregateRow, error)
	// SelectDetailed returns rows newest first.
	SelectDetailed(ctx context.Context, questID string) ([]DetailedRow, error)
	// SelectShares returns every share of the quest, including revoked ones.
	SelectShares(ctx context.Context, questID string) ([]ShareRow, error)
}
