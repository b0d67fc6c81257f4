package share

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"fieldquest/cmd/internal/ids"
	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/security/token"
)

const maxGuestNameLen = 64

// QuestReader loads quests for ownership checks.
type QuestReader interface {
	GetQuest(ctx context.Context, id string) (quest.Quest, error)
}

// CreateInput describes share creation.
type CreateInput struct {
	QuestID   string
	OwnerID   string
	GuestName *string
	ExpiresAt *time.Time
	Now       time.Time
}

// Resolved is a usable share together with its quest.
type Resolved struct {
	Share       Share
	Quest       quest.Quest
	DisplayName string
}

// Registry manages share creation, resolution and revocation.
type Registry struct {
	store      Store
	quests     QuestReader
	hasher     *token.Hasher
	tokenBytes int
	log        *slog.Logger
	now        func() time.Time
}

// Option configures the Registry.
type Option func(*Registry) error

// WithTokenBytes sets the entropy of generated tokens in bytes (min 16).
func WithTokenBytes(n int) Option {
	return func(r *Registry) error {
		if n < 16 {
			return ErrInvalidInput
		}
		r.tokenBytes = n
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) error {
		if l != nil {
			r.log = l
		}
		return nil
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) error {
		if now != nil {
			r.now = now
		}
		return nil
	}
}

// NewRegistry constructs a Registry with safe defaults.
func NewRegistry(store Store, quests QuestReader, hasher *token.Hasher, opts ...Option) (*Registry, error) {
	if store == nil || quests == nil || hasher == nil {
		return nil, ErrInvalidInput
	}
	r := &Registry{
		store:      store,
		quests:     quests,
		hasher:     hasher,
		tokenBytes: token.DefaultTokenBytes,
		log:        slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// CreateShare issues a guest share for a quest the caller owns and returns it
// with its plain token. The plain token is never stored.
func (r *Registry) CreateShare(ctx context.Context, in CreateInput) (Share, string, error) {
	if err := ctx.Err(); err != nil {
		return Share{}, "", err
	}
	now := in.Now
	if now.IsZero() {
		now = r.now()
	}

	q, err := r.ownedQuest(ctx, in.OwnerID, in.QuestID)
	if err != nil {
		return Share{}, "", err
	}

	guestName := trimPtr(in.GuestName)
	if guestName != nil && utf8.RuneCountInString(*guestName) > maxGuestNameLen {
		return Share{}, "", ErrInvalidInput
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return Share{}, "", ErrInvalidInput
	}

	plain, err := token.New(r.tokenBytes)
	if err != nil {
		return Share{}, "", err
	}
	hash := r.hasher.Hash(plain)

	id, err := ids.NewULID(now)
	if err != nil {
		return Share{}, "", err
	}

	sh, err := r.store.Create(ctx, CreateRecord{
		ID:        id,
		QuestID:   q.ID,
		Kind:      KindGuest,
		TokenHash: &hash,
		CreatedBy: q.OwnerID,
		GuestName: guestName,
		CreatedAt: now,
		ExpiresAt: utcPtr(in.ExpiresAt),
	})
	if err != nil {
		return Share{}, "", err
	}

	r.log.Info("share.create", "quest_id", q.ID, "share_id", sh.ID, "expires", sh.ExpiresAt != nil)
	return sh, plain, nil
}

// Resolve maps a plain token to its share and quest. Unknown, expired and
// revoked tokens all return ErrNotFound.
func (r *Registry) Resolve(ctx context.Context, tok string) (Resolved, error) {
	if err := ctx.Err(); err != nil {
		return Resolved{}, err
	}
	tok, err := token.Normalize(tok)
	if err != nil {
		return Resolved{}, ErrNotFound
	}

	sh, err := r.store.GetByTokenHash(ctx, r.hasher.Hash(tok))
	if err != nil {
		return Resolved{}, err
	}
	if sh.Kind != KindGuest || !sh.Active(r.now()) {
		return Resolved{}, ErrNotFound
	}

	q, err := r.quests.GetQuest(ctx, sh.QuestID)
	if err != nil {
		if errors.Is(err, quest.ErrNotFound) {
			return Resolved{}, ErrNotFound
		}
		return Resolved{}, err
	}

	return Resolved{Share: sh, Quest: q, DisplayName: DisplayName(sh.Kind, sh.GuestName, q.OwnerName)}, nil
}

// Get loads a share by id together with its quest, without activity checks.
func (r *Registry) Get(ctx context.Context, shareID string) (Resolved, error) {
	sh, err := r.store.Get(ctx, strings.TrimSpace(shareID))
	if err != nil {
		return Resolved{}, err
	}
	q, err := r.quests.GetQuest(ctx, sh.QuestID)
	if err != nil {
		if errors.Is(err, quest.ErrNotFound) {
			return Resolved{}, ErrNotFound
		}
		return Resolved{}, err
	}
	return Resolved{Share: sh, Quest: q, DisplayName: DisplayName(sh.Kind, sh.GuestName, q.OwnerName)}, nil
}

// Revoke withdraws a guest share. Progress recorded under it is kept.
func (r *Registry) Revoke(ctx context.Context, shareID, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	shareID = strings.TrimSpace(shareID)
	if shareID == "" {
		return ErrInvalidInput
	}

	sh, err := r.store.Get(ctx, shareID)
	if err != nil {
		return err
	}
	q, err := r.quests.GetQuest(ctx, sh.QuestID)
	if err != nil {
		return err
	}
	if !q.OwnedBy(strings.TrimSpace(ownerID)) {
		return ErrForbidden
	}
	if sh.Kind == KindOwner {
		return ErrInvalidInput
	}

	if _, err := r.store.Revoke(ctx, sh.ID, r.now()); err != nil {
		return err
	}
	r.log.Info("share.revoke", "quest_id", q.ID, "share_id", sh.ID)
	return nil
}

// OwnerShare returns the owner's implicit share on a quest, creating it on
// first use.
func (r *Registry) OwnerShare(ctx context.Context, questID, ownerID string) (Resolved, error) {
	q, err := r.ownedQuest(ctx, ownerID, questID)
	if err != nil {
		return Resolved{}, err
	}

	now := r.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Resolved{}, err
	}
	sh, err := r.store.EnsureOwnerShare(ctx, CreateRecord{
		ID:        id,
		QuestID:   q.ID,
		Kind:      KindOwner,
		CreatedBy: q.OwnerID,
		CreatedAt: now,
	})
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Share: sh, Quest: q, DisplayName: DisplayName(sh.Kind, sh.GuestName, q.OwnerName)}, nil
}

// List returns every share of a quest (including revoked and expired ones).
func (r *Registry) List(ctx context.Context, questID, ownerID string) ([]Share, error) {
	q, err := r.ownedQuest(ctx, ownerID, questID)
	if err != nil {
		return nil, err
	}
	return r.store.ListByQuest(ctx, q.ID)
}

// MarkAccessed records that the share's page was opened.
func (r *Registry) MarkAccessed(ctx context.Context, shareID string) error {
	return r.store.MarkAccessed(ctx, shareID, r.now())
}

func (r *Registry) ownedQuest(ctx context.Context, ownerID, questID string) (quest.Quest, error) {
	questID = strings.TrimSpace(questID)
	ownerID = strings.TrimSpace(ownerID)
	if questID == "" || ownerID == "" {
		return quest.Quest{}, ErrInvalidInput
	}
	q, err := r.quests.GetQuest(ctx, questID)
	if err != nil {
		return quest.Quest{}, err
	}
	if !q.OwnedBy(ownerID) {
		return quest.Quest{}, ErrForbidden
	}
	return q, nil
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
