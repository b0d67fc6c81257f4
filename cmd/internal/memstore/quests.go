package memstore

import (
	"context"

	"fieldquest/cmd/internal/progress"
	"fieldquest/cmd/internal/quest"
)

type questStore struct{ db *DB }

func (s questStore) CreateQuest(ctx context.Context, q quest.Quest) (quest.Quest, error) {
	if err := ctx.Err(); err != nil {
		return quest.Quest{}, err
	}
	if q.ID == "" {
		return quest.Quest{}, quest.ErrInvalidInput
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.quests[q.ID] = q
	return q, nil
}

func (s questStore) GetQuest(ctx context.Context, id string) (quest.Quest, error) {
	if err := ctx.Err(); err != nil {
		return quest.Quest{}, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	q, ok := s.db.quests[id]
	if !ok {
		return quest.Quest{}, quest.ErrNotFound
	}
	return q, nil
}

func (s questStore) DeleteQuest(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.quests[id]; !ok {
		return quest.ErrNotFound
	}
	delete(db.quests, id)

	mappings := map[string]struct{}{}
	for mid, m := range db.mappings {
		if m.QuestID == id {
			mappings[mid] = struct{}{}
			delete(db.mappings, mid)
		}
	}
	shares := map[string]struct{}{}
	for sid, sh := range db.shares {
		if sh.QuestID == id {
			shares[sid] = struct{}{}
			if sh.tokenHash != "" {
				delete(db.byHash, sh.tokenHash)
			}
			delete(db.shares, sid)
		}
	}
	db.deleteProgressWhere(func(p progress.Progress) bool {
		_, m := mappings[p.MappingID]
		_, sh := shares[p.ShareID]
		return m || sh
	})
	return nil
}

func (s questStore) AddMapping(ctx context.Context, m quest.Mapping) (quest.Mapping, error) {
	if err := ctx.Err(); err != nil {
		return quest.Mapping{}, err
	}
	if m.ID == "" || m.QuestID == "" {
		return quest.Mapping{}, quest.ErrInvalidInput
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.quests[m.QuestID]; !ok {
		return quest.Mapping{}, quest.ErrNotFound
	}
	for _, existing := range s.db.mappings {
		if existing.QuestID == m.QuestID && existing.TaxonID == m.TaxonID {
			return quest.Mapping{}, quest.ErrDuplicate
		}
	}
	s.db.mappings[m.ID] = m
	return m, nil
}

func (s questStore) GetMapping(ctx context.Context, id string) (quest.Mapping, error) {
	if err := ctx.Err(); err != nil {
		return quest.Mapping{}, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.mappings[id]
	if !ok {
		return quest.Mapping{}, quest.ErrNotFound
	}
	return m, nil
}

func (s questStore) ListMappings(ctx context.Context, questID string) ([]quest.Mapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]quest.Mapping, 0, 16)
	for _, m := range s.db.mappings {
		if m.QuestID == questID {
			out = append(out, m)
		}
	}
	sortedMappings(out)
	return out, nil
}

func (s questStore) RemoveMapping(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.mappings[id]; !ok {
		return quest.ErrNotFound
	}
	delete(db.mappings, id)
	db.deleteProgressWhere(func(p progress.Progress) bool { return p.MappingID == id })
	return nil
}
