package memstore

import (
	"context"
	"sort"
	"time"

	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/internal/share"
)

type shareStore struct{ db *DB }

func (s shareStore) Create(ctx context.Context, in share.CreateRecord) (share.Share, error) {
	if err := ctx.Err(); err != nil {
		return share.Share{}, err
	}
	if in.ID == "" || in.QuestID == "" {
		return share.Share{}, share.ErrInvalidInput
	}
	if in.Kind == share.KindGuest && (in.TokenHash == nil || len(*in.TokenHash) != 64) {
		return share.Share{}, share.ErrInvalidInput
	}

	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.quests[in.QuestID]; !ok {
		return share.Share{}, quest.ErrNotFound
	}
	ms := &memShare{Share: share.Share{
		ID:        in.ID,
		QuestID:   in.QuestID,
		Kind:      in.Kind,
		CreatedBy: in.CreatedBy,
		GuestName: in.GuestName,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
	}}
	if in.TokenHash != nil {
		if _, dup := db.byHash[*in.TokenHash]; dup {
			return share.Share{}, share.ErrInvalidInput
		}
		ms.tokenHash = *in.TokenHash
		db.byHash[ms.tokenHash] = ms.ID
	}
	db.shares[ms.ID] = ms
	return ms.Share, nil
}

func (s shareStore) EnsureOwnerShare(ctx context.Context, in share.CreateRecord) (share.Share, error) {
	if err := ctx.Err(); err != nil {
		return share.Share{}, err
	}
	if in.Kind != share.KindOwner || in.TokenHash != nil {
		return share.Share{}, share.ErrInvalidInput
	}

	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.quests[in.QuestID]; !ok {
		return share.Share{}, quest.ErrNotFound
	}
	for _, sh := range db.shares {
		if sh.QuestID == in.QuestID && sh.Kind == share.KindOwner {
			return sh.Share, nil
		}
	}
	ms := &memShare{Share: share.Share{
		ID:        in.ID,
		QuestID:   in.QuestID,
		Kind:      share.KindOwner,
		CreatedBy: in.CreatedBy,
		CreatedAt: in.CreatedAt,
	}}
	db.shares[ms.ID] = ms
	return ms.Share, nil
}

func (s shareStore) Get(ctx context.Context, id string) (share.Share, error) {
	if err := ctx.Err(); err != nil {
		return share.Share{}, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sh, ok := s.db.shares[id]
	if !ok {
		return share.Share{}, share.ErrNotFound
	}
	return sh.Share, nil
}

func (s shareStore) GetByTokenHash(ctx context.Context, tokenHash string) (share.Share, error) {
	if err := ctx.Err(); err != nil {
		return share.Share{}, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	id, ok := s.db.byHash[tokenHash]
	if !ok {
		return share.Share{}, share.ErrNotFound
	}
	return s.db.shares[id].Share, nil
}

func (s shareStore) ListByQuest(ctx context.Context, questID string) ([]share.Share, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]share.Share, 0, 8)
	for _, sh := range s.db.shares {
		if sh.QuestID == questID {
			out = append(out, sh.Share)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s shareStore) Revoke(ctx context.Context, id string, now time.Time) (share.Share, error) {
	if err := ctx.Err(); err != nil {
		return share.Share{}, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sh, ok := s.db.shares[id]
	if !ok {
		return share.Share{}, share.ErrNotFound
	}
	if sh.RevokedAt == nil {
		sh.RevokedAt = timePtr(now)
	}
	return sh.Share, nil
}

func (s shareStore) MarkAccessed(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sh, ok := s.db.shares[id]
	if !ok {
		return share.ErrNotFound
	}
	sh.AccessedAt = timePtr(now)
	return nil
}
