package realtime

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	eventsv1 "fieldquest/shared/contracts/events/v1"

	"github.com/goccy/go-json"
)

var keepaliveFrame = []byte(": keepalive\n\n")

// ServeSSE streams progress events of questID as Server-Sent Events until the
// client disconnects or the subscriber is dropped. Callers authorize first.
// An error is returned only if the stream could not start; after that the
// response belongs to the stream.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request, questID string) error {
	sub, err := b.Subscribe(questID, TransportSSE)
	if err != nil {
		return err
	}
	defer b.Unsubscribe(sub)

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		b.log.Error("realtime.sse.flush.unsupported", "quest_id", questID, "subscriber_id", sub.ID, "err", err)
		return nil
	}

	ctx := r.Context()
	t := time.NewTicker(b.cfg.Heartbeat)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case ev := <-sub.Events():
			if err := b.writeSSE(rc, w, encodeSSE, ev); err != nil {
				b.logStreamEnd("realtime.sse.write.fail", sub, ctx, err)
				return nil
			}
		case <-t.C:
			if err := b.writeSSE(rc, w, keepalive, eventsv1.ProgressUpdated{}); err != nil {
				b.logStreamEnd("realtime.sse.keepalive.fail", sub, ctx, err)
				return nil
			}
		}
	}
}

type sseEncoder func(eventsv1.ProgressUpdated) ([]byte, error)

func keepalive(eventsv1.ProgressUpdated) ([]byte, error) { return keepaliveFrame, nil }

// encodeSSE renders one event frame: an event line, one data line, a blank line.
func encodeSSE(ev eventsv1.ProgressUpdated) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + 48)
	buf.WriteString("event: ")
	buf.WriteString(eventsv1.TypeProgressUpdated)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

func (b *Broadcaster) writeSSE(rc *http.ResponseController, w http.ResponseWriter, enc sseEncoder, ev eventsv1.ProgressUpdated) error {
	frame, err := enc(ev)
	if err != nil {
		return err
	}
	if err := rc.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return rc.Flush()
}

func (b *Broadcaster) logStreamEnd(event string, sub *Subscriber, ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	b.log.Info(event, "quest_id", sub.QuestID, "subscriber_id", sub.ID, "err", err)
}
