package realtime

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	eventsv1 "fieldquest/shared/contracts/events/v1"

	"github.com/goccy/go-json"
)

func sseServer(t *testing.T, b *Broadcaster) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := b.ServeSSE(w, r, "q1"); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitCount(t *testing.T, b *Broadcaster, questID string, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if b.Count(questID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber count for %s=%d want %d", questID, b.Count(questID), want)
}

// readFrame reads lines up to the blank line that ends an SSE frame.
func readFrame(t *testing.T, br *bufio.Reader) []string {
	t.Helper()
	var lines []string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read frame: %v (so far %q)", err, lines)
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			return lines
		}
		lines = append(lines, line)
	}
}

func TestServeSSE_FramesAndCleanup(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(Config{Heartbeat: time.Hour})
	srv := sseServer(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}
	waitCount(t, b, "q1", 1)

	b.Publish("q1", event("q1", 1))
	b.Publish("q1", event("q1", 2))

	br := bufio.NewReader(resp.Body)
	for want := int64(1); want <= 2; want++ {
		lines := readFrame(t, br)
		if len(lines) != 2 || lines[0] != "event: "+eventsv1.TypeProgressUpdated || !strings.HasPrefix(lines[1], "data: ") {
			t.Fatalf("frame=%q", lines)
		}
		var ev eventsv1.ProgressUpdated
		if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &ev); err != nil {
			t.Fatalf("decode data: %v", err)
		}
		if ev.Seq != want || ev.QuestID != "q1" || ev.Change.DisplayName != "Alex" {
			t.Fatalf("event=%+v", ev)
		}
	}

	cancel()
	waitCount(t, b, "q1", 0)
}

func TestServeSSE_Keepalive(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(Config{Heartbeat: 20 * time.Millisecond})
	srv := sseServer(t, b)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	lines := readFrame(t, bufio.NewReader(resp.Body))
	if len(lines) != 1 || lines[0] != ": keepalive" {
		t.Fatalf("frame=%q want keepalive comment", lines)
	}
}

func TestServeSSE_EndsWhenDropped(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(Config{Heartbeat: time.Hour})
	srv := sseServer(t, b)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	waitCount(t, b, "q1", 1)

	_ = b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = bufio.NewReader(resp.Body).ReadString(0)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end after broadcaster shutdown")
	}
}

func TestServeSSE_SubscribeError(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(DefaultConfig())
	_ = b.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := b.ServeSSE(rec, req, "q1"); err == nil {
		t.Fatal("expected error from closed broadcaster")
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("nothing must be written on error, got %q", rec.Body.String())
	}
}

func TestEncodeSSE_SingleDataLine(t *testing.T) {
	t.Parallel()

	frame, err := encodeSSE(event("q1", 7))
	if err != nil {
		t.Fatalf("encodeSSE: %v", err)
	}
	s := string(frame)
	if !strings.HasPrefix(s, "event: progress-updated\ndata: {") || !strings.HasSuffix(s, "}\n\n") {
		t.Fatalf("frame=%q", s)
	}
	if strings.Count(s, "\n") != 3 {
		t.Fatalf("frame must have exactly one data line: %q", s)
	}
}
