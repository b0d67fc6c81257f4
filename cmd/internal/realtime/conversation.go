package realtime

import (
	"sync"

	eventsv1 "fieldquest/shared/contracts/events/v1"
)

// room is the subscriber set of one quest.
type room struct {
	questID string

	mu      sync.Mutex
	members map[string]*Subscriber
}

func newRoom(questID string) *room {
	return &room{questID: questID, members: make(map[string]*Subscriber)}
}

func (r *room) join(s *Subscriber) {
	r.mu.Lock()
	r.members[s.ID] = s
	r.mu.Unlock()
}

// leave removes id and reports whether it was present and how many remain.
func (r *room) leave(id string) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[id]
	delete(r.members, id)
	return ok, len(r.members)
}

func (r *room) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// broadcast offers ev to every member without blocking. Members whose queue
// is full are removed and returned; a dropped member never sees a later event
// without the one before it.
func (r *room) broadcast(ev eventsv1.ProgressUpdated) (delivered int, dropped []*Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, m := range r.members {
		select {
		case <-m.Done():
			delete(r.members, id)
			continue
		default:
		}

		select {
		case m.send <- ev:
			delivered++
		default:
			delete(r.members, id)
			dropped = append(dropped, m)
		}
	}
	return delivered, dropped
}

func (r *room) drain() []*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscriber, 0, len(r.members))
	for id, m := range r.members {
		out = append(out, m)
		delete(r.members, id)
	}
	return out
}
