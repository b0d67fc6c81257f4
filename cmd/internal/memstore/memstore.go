// Package memstore is the dev-only in-memory backend used when no database is
// configured. One DB holds quests, mappings, shares and progress together so
// deletes cascade the way the Postgres foreign keys do.
package memstore

import (
	"sort"
	"sync"
	"time"

	"fieldquest/cmd/internal/progress"
	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/internal/share"
)

type memShare struct {
	share.Share
	tokenHash string
}

// DB is safe for concurrent use.
type DB struct {
	mu       sync.Mutex
	quests   map[string]quest.Quest
	mappings map[string]quest.Mapping
	shares   map[string]*memShare
	byHash   map[string]string            // token hash -> share id
	progress map[string]progress.Progress // id -> row
	byPair   map[[2]string]string         // (share, mapping) -> progress id
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		quests:   make(map[string]quest.Quest),
		mappings: make(map[string]quest.Mapping),
		shares:   make(map[string]*memShare),
		byHash:   make(map[string]string),
		progress: make(map[string]progress.Progress),
		byPair:   make(map[[2]string]string),
	}
}

// Quests returns the quest.Store view.
func (db *DB) Quests() quest.Store { return questStore{db} }

// Shares returns the share.Store view.
func (db *DB) Shares() share.Store { return shareStore{db} }

// Progress returns the progress.Store view.
func (db *DB) Progress() progress.Store { return progressStore{db} }

// Close is a no-op.
func (db *DB) Close() error { return nil }

// deleteProgressWhere must be called with db.mu held.
func (db *DB) deleteProgressWhere(match func(progress.Progress) bool) {
	for id, p := range db.progress {
		if match(p) {
			delete(db.progress, id)
			delete(db.byPair, [2]string{p.ShareID, p.MappingID})
		}
	}
}

func sortedMappings(in []quest.Mapping) {
	sort.Slice(in, func(i, j int) bool {
		if !in[i].CreatedAt.Equal(in[j].CreatedAt) {
			return in[i].CreatedAt.Before(in[j].CreatedAt)
		}
		return in[i].ID < in[j].ID
	})
}

func timePtr(t time.Time) *time.Time { return &t }
