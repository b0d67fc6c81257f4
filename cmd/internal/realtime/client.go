package realtime

import (
	"sync"

	eventsv1 "fieldquest/shared/contracts/events/v1"
)

// Close reasons reported by Subscriber.Reason.
const (
	ReasonUnsubscribed = "unsubscribed"
	ReasonSlow         = "slow_consumer"
	ReasonShutdown     = "shutdown"
)

// Subscriber is one live connection watching one quest.
//
// The events channel is never closed by the broadcaster, so a concurrent
// Publish cannot panic; Done signals the end of the stream instead.
type Subscriber struct {
	ID        string
	QuestID   string
	Transport string

	send chan eventsv1.ProgressUpdated

	done      chan struct{}
	closeOnce sync.Once
	reason    string
}

func newSubscriber(id, questID, transport string, queue int) *Subscriber {
	if queue <= 0 {
		queue = defaultSendQueue
	}
	return &Subscriber{
		ID:        id,
		QuestID:   questID,
		Transport: transport,
		send:      make(chan eventsv1.ProgressUpdated, queue),
		done:      make(chan struct{}),
	}
}

// Events delivers progress events in publish order.
func (s *Subscriber) Events() <-chan eventsv1.ProgressUpdated { return s.send }

// Done is closed once the subscriber is removed.
func (s *Subscriber) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Reason reports why the subscriber was closed. Valid after Done.
func (s *Subscriber) Reason() string {
	select {
	case <-s.Done():
		return s.reason
	default:
		return ""
	}
}

func (s *Subscriber) close(reason string) bool {
	closed := false
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.done)
		closed = true
	})
	return closed
}
