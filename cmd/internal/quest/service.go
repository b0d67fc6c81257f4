package quest

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"fieldquest/cmd/internal/ids"
)

const (
	maxTitleLen   = 200
	maxLabelLen   = 200
	maxTaxonIDLen = 64
)

// Owner is the verified identity performing an owner action.
type Owner struct {
	UserID   string
	Username string
}

// CreateInput describes quest creation.
type CreateInput struct {
	Title   string
	Private bool
	Now     time.Time
}

// Service applies ownership rules on top of a Store.
type Service struct {
	store Store
}

// NewService constructs a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	return &Service{store: store}, nil
}

// Store exposes the underlying store for read paths.
func (s *Service) Store() Store { return s.store }

// Create makes a new quest owned by owner.
func (s *Service) Create(ctx context.Context, owner Owner, in CreateInput) (Quest, error) {
	if err := ctx.Err(); err != nil {
		return Quest{}, err
	}
	ownerID := strings.TrimSpace(owner.UserID)
	username := strings.TrimSpace(owner.Username)
	title := strings.TrimSpace(in.Title)
	if ownerID == "" || username == "" {
		return Quest{}, ErrInvalidInput
	}
	if title == "" || utf8.RuneCountInString(title) > maxTitleLen {
		return Quest{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Quest{}, err
	}

	return s.store.CreateQuest(ctx, Quest{
		ID:        id,
		OwnerID:   ownerID,
		OwnerName: username,
		Title:     title,
		Private:   in.Private,
		CreatedAt: now,
	})
}

// Get loads a quest.
func (s *Service) Get(ctx context.Context, id string) (Quest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Quest{}, ErrInvalidInput
	}
	return s.store.GetQuest(ctx, id)
}

// Mappings lists a quest's mappings in creation order.
func (s *Service) Mappings(ctx context.Context, questID string) ([]Mapping, error) {
	if _, err := s.Get(ctx, questID); err != nil {
		return nil, err
	}
	return s.store.ListMappings(ctx, questID)
}

// Delete removes a quest and everything hanging off it.
func (s *Service) Delete(ctx context.Context, ownerID, questID string) error {
	q, err := s.owned(ctx, ownerID, questID)
	if err != nil {
		return err
	}
	return s.store.DeleteQuest(ctx, q.ID)
}

// AddMapping binds a species to the quest.
func (s *Service) AddMapping(ctx context.Context, ownerID, questID, taxonID, label string) (Mapping, error) {
	q, err := s.owned(ctx, ownerID, questID)
	if err != nil {
		return Mapping{}, err
	}
	taxonID = strings.TrimSpace(taxonID)
	label = strings.TrimSpace(label)
	if taxonID == "" || len(taxonID) > maxTaxonIDLen || utf8.RuneCountInString(label) > maxLabelLen {
		return Mapping{}, ErrInvalidInput
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return Mapping{}, err
	}
	return s.store.AddMapping(ctx, Mapping{
		ID:        id,
		QuestID:   q.ID,
		TaxonID:   taxonID,
		Label:     label,
		CreatedAt: now,
	})
}

// RemoveMapping deletes a mapping (and its progress) from the quest.
func (s *Service) RemoveMapping(ctx context.Context, ownerID, questID, mappingID string) error {
	q, err := s.owned(ctx, ownerID, questID)
	if err != nil {
		return err
	}
	m, err := s.store.GetMapping(ctx, strings.TrimSpace(mappingID))
	if err != nil {
		return err
	}
	if m.QuestID != q.ID {
		return ErrNotFound
	}
	return s.store.RemoveMapping(ctx, m.ID)
}

func (s *Service) owned(ctx context.Context, ownerID, questID string) (Quest, error) {
	q, err := s.Get(ctx, questID)
	if err != nil {
		return Quest{}, err
	}
	if !q.OwnedBy(strings.TrimSpace(ownerID)) {
		return Quest{}, ErrForbidden
	}
	return q, nil
}
