package quest

import "context"

// Store is the persistence boundary for quests and mappings.
// Implementations must cascade deletes to shares and progress.
type Store interface {
	CreateQuest(ctx context.Context, q Quest) (Quest, error)
	GetQuest(ctx context.Context, id string) (Quest, error)
	DeleteQuest(ctx context.Context, id string) error

	AddMapping(ctx context.Context, m Mapping) (Mapping, error)
	GetMapping(ctx context.Context, id string) (Mapping, error)
	ListMappings(ctx context.Context, questID string) ([]Mapping, error)
	RemoveMapping(ctx context.Context, id string) error
}
