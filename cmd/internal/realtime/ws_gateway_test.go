package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	eventsv1 "fieldquest/shared/contracts/events/v1"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
)

func wsServer(t *testing.T, b *Broadcaster) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := b.ServeWS(w, r, "q1"); err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestServeWS_PushesEvents(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(Config{Heartbeat: time.Hour})
	url := wsServer(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{WSSubprotocol}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	waitCount(t, b, "q1", 1)
	b.Publish("q1", event("q1", 3))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var msg struct {
		Type string                   `json:"type"`
		Data eventsv1.ProgressUpdated `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != eventsv1.TypeProgressUpdated || msg.Data.Seq != 3 {
		t.Fatalf("message=%+v", msg)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitCount(t, b, "q1", 0)
}

func TestServeWS_ClientMessagesCloseStream(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(Config{Heartbeat: time.Hour})
	url := wsServer(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{WSSubprotocol}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()
	waitCount(t, b, "q1", 1)

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"hello"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("read err=%v want policy violation close", err)
	}
	waitCount(t, b, "q1", 0)
}

func TestServeWS_RequiresSubprotocol(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(Config{Heartbeat: time.Hour})
	url := wsServer(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusProtocolError {
		t.Fatalf("err=%v want protocol error close", err)
	}
	if b.Count("q1") != 0 {
		t.Fatal("subscriber registered without subprotocol")
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		origin  string
		allowed bool
	}{
		{"no origin optional", Config{}, "", true},
		{"no origin required", Config{OriginRequired: true}, "", false},
		{"exact", Config{AllowedOrigins: []string{"https://app.example"}}, "https://app.example", true},
		{"host with port", Config{AllowedOrigins: []string{"http://localhost"}}, "http://localhost:5173", true},
		{"other host", Config{AllowedOrigins: []string{"http://localhost"}}, "https://evil.example", false},
		{"wildcard", Config{AllowedOrigins: []string{"*"}}, "https://any.example", true},
	}
	for _, tc := range cases {
		b := NewBroadcaster(tc.cfg)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		err := b.enforceOrigin(r)
		if (err == nil) != tc.allowed {
			t.Fatalf("%s: err=%v allowed=%v", tc.name, err, tc.allowed)
		}
	}

	b := NewBroadcaster(Config{AllowedOrigins: []string{"https://app.example"}})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example")
	if err := b.ServeWS(httptest.NewRecorder(), r, "q1"); !errors.Is(err, ErrOrigin) {
		t.Fatalf("ServeWS err=%v want ErrOrigin", err)
	}
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	got := originPatterns([]string{"http://LocalHost:3000", "*", "https://app.example", ""})
	want := []string{"app.example", "app.example:*", "localhost", "localhost:*"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns=%v want %v", got, want)
	}
}
