package memstore

import (
	"context"
	"sort"

	"fieldquest/cmd/internal/progress"
	"fieldquest/cmd/internal/quest"
)

type progressStore struct{ db *DB }

func (s progressStore) Upsert(ctx context.Context, p progress.Progress) (progress.Progress, error) {
	if err := ctx.Err(); err != nil {
		return progress.Progress{}, err
	}
	if p.ID == "" || p.ShareID == "" || p.MappingID == "" || p.ObservedAt.IsZero() {
		return progress.Progress{}, progress.ErrInvalidInput
	}

	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.shares[p.ShareID]; !ok {
		return progress.Progress{}, progress.ErrNotFound
	}
	if _, ok := db.mappings[p.MappingID]; !ok {
		return progress.Progress{}, progress.ErrNotFound
	}

	pair := [2]string{p.ShareID, p.MappingID}
	if id, ok := db.byPair[pair]; ok {
		cur := db.progress[id]
		if p.ObservedAt.After(cur.ObservedAt) {
			cur.ObservedAt = p.ObservedAt
			db.progress[id] = cur
		}
		return cur, nil
	}
	db.progress[p.ID] = p
	db.byPair[pair] = p.ID
	return p, nil
}

func (s progressStore) Get(ctx context.Context, id string) (progress.Progress, error) {
	if err := ctx.Err(); err != nil {
		return progress.Progress{}, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.progress[id]
	if !ok {
		return progress.Progress{}, progress.ErrNotFound
	}
	return p, nil
}

func (s progressStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.progress[id]
	if !ok {
		return false, nil
	}
	delete(s.db.progress, id)
	delete(s.db.byPair, [2]string{p.ShareID, p.MappingID})
	return true, nil
}

func (s progressStore) DeleteByPair(ctx context.Context, shareID, mappingID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	pair := [2]string{shareID, mappingID}
	id, ok := s.db.byPair[pair]
	if !ok {
		return false, nil
	}
	delete(s.db.byPair, pair)
	delete(s.db.progress, id)
	return true, nil
}

func (s progressStore) SelectAggregates(ctx context.Context, questID string) ([]progress.AggregateRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	var mappings []quest.Mapping
	for _, m := range db.mappings {
		if m.QuestID == questID {
			mappings = append(mappings, m)
		}
	}
	sortedMappings(mappings)

	out := make([]progress.AggregateRow, 0, len(mappings))
	for _, m := range mappings {
		r := progress.AggregateRow{MappingID: m.ID, TaxonID: m.TaxonID, Label: m.Label}
		var last *progress.Progress
		finders := map[string]struct{}{}
		for _, p := range db.progress {
			if p.MappingID != m.ID {
				continue
			}
			finders[p.ShareID] = struct{}{}
			if last == nil || p.ObservedAt.After(last.ObservedAt) ||
				(p.ObservedAt.Equal(last.ObservedAt) && p.ID > last.ID) {
				cp := p
				last = &cp
			}
		}
		r.Count = len(finders)
		if last != nil {
			r.LastObservedAt = timePtr(last.ObservedAt)
			if sh, ok := db.shares[last.ShareID]; ok {
				r.LastShareKind = sh.Kind
				r.LastGuestName = sh.GuestName
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (s progressStore) SelectDetailed(ctx context.Context, questID string) ([]progress.DetailedRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]progress.DetailedRow, 0, 32)
	for _, p := range db.progress {
		m, ok := db.mappings[p.MappingID]
		if !ok || m.QuestID != questID {
			continue
		}
		r := progress.DetailedRow{Progress: p, TaxonID: m.TaxonID}
		if sh, ok := db.shares[p.ShareID]; ok {
			r.ShareKind = sh.Kind
			r.GuestName = sh.GuestName
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.After(out[j].ObservedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s progressStore) SelectShares(ctx context.Context, questID string) ([]progress.ShareRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]progress.ShareRow, 0, 8)
	for _, sh := range db.shares {
		if sh.QuestID != questID {
			continue
		}
		r := progress.ShareRow{
			ShareID:    sh.ID,
			Kind:       sh.Kind,
			GuestName:  sh.GuestName,
			InvitedAt:  sh.CreatedAt,
			AccessedAt: sh.AccessedAt,
			RevokedAt:  sh.RevokedAt,
		}
		for _, p := range db.progress {
			if p.ShareID != sh.ID {
				continue
			}
			r.Count++
			if r.LastProgressAt == nil || p.ObservedAt.After(*r.LastProgressAt) {
				r.LastProgressAt = timePtr(p.ObservedAt)
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InvitedAt.Equal(out[j].InvitedAt) {
			return out[i].InvitedAt.Before(out[j].InvitedAt)
		}
		return out[i].ShareID < out[j].ShareID
	})
	return out, nil
}
