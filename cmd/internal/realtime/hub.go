// Package realtime fans progress events out to live viewers of a quest.
//
// The Broadcaster keeps one room per quest. Publish never blocks: a viewer
// whose queue is full is disconnected instead of silently missing events.
// SSE and WebSocket transports read from the same subscriber queue, and a
// NATS relay carries events between instances.
package realtime

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fieldquest/cmd/internal/fault"
	"fieldquest/cmd/internal/telemetry"
	eventsv1 "fieldquest/shared/contracts/events/v1"
)

const (
	TransportSSE = "sse"
	TransportWS  = "ws"
)

var (
	ErrClosed   = fmt.Errorf("realtime: broadcaster closed: %w", fault.ErrUpstreamUnavailable)
	ErrCapacity = fmt.Errorf("realtime: subscriber limit reached: %w", fault.ErrUpstreamUnavailable)
	ErrInvalid  = fmt.Errorf("realtime: invalid subscription: %w", fault.ErrValidation)
)

// Publisher receives progress events.
type Publisher interface {
	Publish(questID string, ev eventsv1.ProgressUpdated)
}

// Publishers publishes to each element in order.
type Publishers []Publisher

func (ps Publishers) Publish(questID string, ev eventsv1.ProgressUpdated) {
	for _, p := range ps {
		if p != nil {
			p.Publish(questID, ev)
		}
	}
}

// Broadcaster owns the per-quest rooms of this process.
type Broadcaster struct {
	cfg     Config
	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu     sync.Mutex
	rooms  map[string]*room
	total  int
	closed bool
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.log = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// NewBroadcaster constructs a Broadcaster.
func NewBroadcaster(cfg Config, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		cfg:   cfg.normalized(),
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
		rooms: make(map[string]*room),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Config returns the effective configuration.
func (b *Broadcaster) Config() Config { return b.cfg }

// Subscribe registers a viewer of questID.
func (b *Broadcaster) Subscribe(questID, transport string) (*Subscriber, error) {
	questID = strings.TrimSpace(questID)
	if questID == "" {
		return nil, ErrInvalid
	}
	id, err := newSubscriberID(b.now())
	if err != nil {
		return nil, err
	}
	sub := newSubscriber(id, questID, transport, b.cfg.SendQueue)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if b.cfg.MaxSubscribers > 0 && b.total >= b.cfg.MaxSubscribers {
		b.mu.Unlock()
		b.log.Warn("realtime.subscribe.capacity", "quest_id", questID, "max", b.cfg.MaxSubscribers)
		return nil, ErrCapacity
	}
	r := b.rooms[questID]
	if r == nil {
		r = newRoom(questID)
		b.rooms[questID] = r
	}
	r.join(sub)
	b.total++
	b.mu.Unlock()

	b.metrics.SubscriberDelta(transport, 1)
	b.log.Info("realtime.subscribe", "quest_id", questID, "subscriber_id", sub.ID, "transport", transport)
	return sub, nil
}

// Unsubscribe removes sub. It is idempotent and safe after a drop.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.remove(sub, ReasonUnsubscribed)
}

// Publish delivers ev to every local viewer of questID.
func (b *Broadcaster) Publish(questID string, ev eventsv1.ProgressUpdated) {
	b.mu.Lock()
	r := b.rooms[questID]
	b.mu.Unlock()
	if r == nil {
		return
	}

	delivered, dropped := r.broadcast(ev)
	for i := 0; i < delivered; i++ {
		b.metrics.EventDelivery("delivered")
	}
	for _, s := range dropped {
		b.metrics.EventDelivery("dropped")
		b.log.Warn("realtime.subscriber.drop",
			"quest_id", questID, "subscriber_id", s.ID, "transport", s.Transport, "seq", ev.Seq, "reason", ReasonSlow)
		b.remove(s, ReasonSlow)
	}
}

// Count returns the number of local viewers of questID.
func (b *Broadcaster) Count(questID string) int {
	b.mu.Lock()
	r := b.rooms[questID]
	b.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.size()
}

// Close disconnects every subscriber and rejects new ones.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	rooms := b.rooms
	b.rooms = make(map[string]*room)
	b.mu.Unlock()

	for _, r := range rooms {
		for _, s := range r.drain() {
			b.finish(s, ReasonShutdown)
		}
	}
	return nil
}

func (b *Broadcaster) remove(sub *Subscriber, reason string) {
	b.mu.Lock()
	if r := b.rooms[sub.QuestID]; r != nil {
		if _, left := r.leave(sub.ID); left == 0 {
			delete(b.rooms, sub.QuestID)
		}
	}
	b.mu.Unlock()
	b.finish(sub, reason)
}

// finish closes sub once and releases its slot.
func (b *Broadcaster) finish(sub *Subscriber, reason string) {
	if !sub.close(reason) {
		return
	}
	b.mu.Lock()
	b.total--
	b.mu.Unlock()
	b.metrics.SubscriberDelta(sub.Transport, -1)
	b.log.Info("realtime.unsubscribe", "quest_id", sub.QuestID, "subscriber_id", sub.ID, "reason", reason)
}
