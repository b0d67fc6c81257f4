package share

import (
	"context"
	"time"
)

// CreateRecord is a normalized share insert payload.
type CreateRecord struct {
	ID        string
	QuestID   string
	Kind      Kind
	TokenHash *string // nil for owner shares
	CreatedBy string
	GuestName *string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Store is the persistence boundary for shares.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Share, error)
	// EnsureOwnerShare inserts the owner share unless one exists and returns
	// the stored row either way.
	EnsureOwnerShare(ctx context.Context, in CreateRecord) (Share, error)
	Get(ctx context.Context, id string) (Share, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (Share, error)
	ListByQuest(ctx context.Context, questID string) ([]Share, error)
	// Revoke sets revoked_at once; revoking twice keeps the first timestamp.
	Revoke(ctx context.Context, id string, now time.Time) (Share, error)
	MarkAccessed(ctx context.Context, id string, now time.Time) error
}
