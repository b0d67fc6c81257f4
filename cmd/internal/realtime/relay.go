package realtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"fieldquest/cmd/internal/ids"
	"fieldquest/cmd/internal/telemetry"
	eventsv1 "fieldquest/shared/contracts/events/v1"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

const (
	subjectPrefix   = "fieldquest.quest."
	subjectSuffix   = ".progress"
	subjectWildcard = subjectPrefix + "*" + subjectSuffix
)

// Subject is the relay subject carrying events of questID.
func Subject(questID string) string {
	return subjectPrefix + questID + subjectSuffix
}

// validSubjectToken rejects ids that would change the subject shape.
func validSubjectToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".*> \t\r\n")
}

// Relay mirrors progress events between instances over NATS core pub/sub.
// Outbound events are wrapped in an eventsv1.Envelope tagged with this
// instance's origin; inbound events from other origins go to local.
type Relay struct {
	nc      *nats.Conn
	origin  string
	local   Publisher
	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

func WithRelayMetrics(m *telemetry.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

// NewRelay constructs a Relay. origin must be unique per instance.
func NewRelay(nc *nats.Conn, origin string, local Publisher, opts ...RelayOption) (*Relay, error) {
	origin = strings.TrimSpace(origin)
	if nc == nil || local == nil || origin == "" {
		return nil, ErrInvalid
	}
	r := &Relay{
		nc:     nc,
		origin: origin,
		local:  local,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Origin returns the instance tag.
func (r *Relay) Origin() string { return r.origin }

// Publish sends ev to the other instances. Failures are logged; local
// viewers are unaffected.
func (r *Relay) Publish(questID string, ev eventsv1.ProgressUpdated) {
	if !validSubjectToken(questID) {
		r.log.Warn("realtime.relay.subject.invalid", "quest_id", questID)
		return
	}
	data, err := r.encode(questID, ev)
	if err == nil {
		err = r.nc.Publish(Subject(questID), data)
	}
	if err != nil {
		r.metrics.EventDelivery("relay_fail")
		r.log.Warn("realtime.relay.publish.fail", "quest_id", questID, "seq", ev.Seq, "err", err)
		return
	}
	r.metrics.EventDelivery("relayed")
}

func (r *Relay) encode(questID string, ev eventsv1.ProgressUpdated) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	now := r.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventsv1.Envelope{
		V:       eventsv1.Version,
		Type:    eventsv1.TypeProgressUpdated,
		ID:      id,
		Origin:  r.origin,
		QuestID: questID,
		TS:      now,
		Payload: payload,
	})
}

// Serve subscribes to every quest subject until ctx ends.
func (r *Relay) Serve(ctx context.Context) error {
	sub, err := r.nc.Subscribe(subjectWildcard, r.handle)
	if err != nil {
		return err
	}
	r.log.Info("realtime.relay.start", "subject", subjectWildcard, "origin", r.origin)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		r.log.Warn("realtime.relay.unsubscribe.fail", "err", err)
	}
	return nil
}

func (r *Relay) String() string { return "realtime-relay" }

func (r *Relay) handle(msg *nats.Msg) {
	var env eventsv1.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.log.Warn("realtime.relay.decode.fail", "subject", msg.Subject, "err", err)
		return
	}
	if err := env.Validate(); err != nil {
		r.log.Warn("realtime.relay.envelope.invalid", "subject", msg.Subject, "err", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	if msg.Subject != Subject(env.QuestID) {
		r.log.Warn("realtime.relay.subject.mismatch", "subject", msg.Subject, "quest_id", env.QuestID)
		return
	}

	var ev eventsv1.ProgressUpdated
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		r.log.Warn("realtime.relay.payload.fail", "quest_id", env.QuestID, "err", err)
		return
	}
	if err := ev.Validate(); err != nil || ev.QuestID != env.QuestID {
		r.log.Warn("realtime.relay.payload.invalid", "quest_id", env.QuestID, "err", err)
		return
	}
	r.local.Publish(env.QuestID, ev)
}
