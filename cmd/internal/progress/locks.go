package progress

import "sync"

// questLocks serializes write -> aggregate -> publish per quest and hands out
// the per-quest event sequence. Entries are dropped when unused.
type questLocks struct {
	mu      sync.Mutex
	entries map[string]*questLock
	seqs    map[string]int64
}

type questLock struct {
	mu   sync.Mutex
	refs int
}

func newQuestLocks() *questLocks {
	return &questLocks{
		entries: make(map[string]*questLock),
		seqs:    make(map[string]int64),
	}
}

// lock blocks until the quest is free and returns the unlock func.
func (l *questLocks) lock(questID string) func() {
	l.mu.Lock()
	e, ok := l.entries[questID]
	if !ok {
		e = &questLock{}
		l.entries[questID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, questID)
		}
		l.mu.Unlock()
	}
}

// nextSeq must be called with the quest lock held.
func (l *questLocks) nextSeq(questID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seqs[questID]++
	return l.seqs[questID]
}
