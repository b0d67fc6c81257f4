package realtime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"fieldquest/cmd/internal/fault"
	eventsv1 "fieldquest/shared/contracts/events/v1"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
)

// WSSubprotocol must be offered by WebSocket clients.
const WSSubprotocol = "fieldquest.events.v1"

// ErrOrigin rejects WebSocket upgrades from origins outside the allowlist.
var ErrOrigin = fmt.Errorf("realtime: origin not allowed: %w", fault.ErrForbidden)

// wsMessage is the WebSocket frame; SSE carries the same data under its
// event name.
type wsMessage struct {
	Type string                   `json:"type"`
	Data eventsv1.ProgressUpdated `json:"data"`
}

// ServeWS upgrades the request and pushes progress events of questID. The
// stream is push-only: any data frame from the client closes it. Callers
// authorize first; an error is returned only before the upgrade.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request, questID string) error {
	if err := b.enforceOrigin(r); err != nil {
		b.log.Info("realtime.ws.reject.origin", "quest_id", questID, "origin", r.Header.Get("Origin"), "err", err)
		return ErrOrigin
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{WSSubprotocol},
		OriginPatterns:     originPatterns(b.cfg.AllowedOrigins),
		InsecureSkipVerify: allowsAnyOrigin(b.cfg.AllowedOrigins),
	})
	if err != nil {
		b.log.Info("realtime.ws.accept.fail", "quest_id", questID, "err", err)
		return nil
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != WSSubprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil
	}
	conn.SetReadLimit(maxFrameBytes)

	sub, err := b.Subscribe(questID, TransportWS)
	if err != nil {
		_ = conn.Close(websocket.StatusTryAgainLater, "unavailable")
		return nil
	}
	defer b.Unsubscribe(sub)

	// CloseRead keeps reading control frames (pongs, close) in the background.
	ctx := conn.CloseRead(r.Context())

	t := time.NewTicker(b.cfg.Heartbeat)
	defer t.Stop()
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			switch sub.Reason() {
			case ReasonSlow:
				_ = conn.Close(websocket.StatusPolicyViolation, "slow consumer")
			default:
				_ = conn.Close(websocket.StatusGoingAway, "shutdown")
			}
			return nil
		case ev := <-sub.Events():
			if err := b.writeWS(ctx, conn, ev); err != nil {
				b.log.Info("realtime.ws.write.fail", "quest_id", questID, "subscriber_id", sub.ID,
					"close_status", websocket.CloseStatus(err), "err", err)
				return nil
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			b.log.Info("realtime.ws.ping.fail", "quest_id", questID, "subscriber_id", sub.ID, "failures", failures, "err", err)
			if failures >= maxPingFailures {
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
				return nil
			}
		}
	}
}

func (b *Broadcaster) writeWS(parent context.Context, conn *websocket.Conn, ev eventsv1.ProgressUpdated) error {
	data, err := json.Marshal(wsMessage{Type: eventsv1.TypeProgressUpdated, Data: ev})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(parent, b.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// ---- origin policy ----

func (b *Broadcaster) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if b.cfg.OriginRequired {
			return fmt.Errorf("missing origin")
		}
		return nil
	}
	if allowsAnyOrigin(b.cfg.AllowedOrigins) {
		return nil
	}

	host := originHost(origin)
	for _, a := range b.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if origin == a || (host != "" && host == originHost(a)) {
			return nil
		}
	}
	return fmt.Errorf("origin %q not in allowlist", origin)
}

func allowsAnyOrigin(allowed []string) bool {
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return true
		}
	}
	return false
}

// originHost extracts the lowercase host of a URL or host[:port] string.
func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	return strings.ToLower(s)
}

// originPatterns derives websocket.Accept host patterns from the allowlist so
// both origin checks agree. Accept matches against host:port, so each host is
// also allowed with any port.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHost(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
