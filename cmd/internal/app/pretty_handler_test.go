package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newPrettyLogger(buf *bytes.Buffer, color bool) *slog.Logger {
	return slog.New(newPrettyHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}, color))
}

func TestPrettyHandler_Attrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	newPrettyLogger(&buf, false).Info("http.request",
		"method", "get",
		"path", "/quests/q1",
		"status", 404,
		"user_agent", "curl 8",
		"empty", "",
	)

	out := buf.String()
	for _, want := range []string{
		"INFO ",
		"http.request",
		" method=GET",
		" path=/quests/q1",
		" status=404",
		` user_agent="curl 8"`,
		` empty=""`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("line not terminated: %q", out)
	}
}

func TestPrettyHandler_Groups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newPrettyLogger(&buf, false).With("instance", "a").WithGroup("upstream")
	log.Warn("breaker", "provider", "species", slog.Group("state", "from", "closed", "to", "open"))

	out := buf.String()
	for _, want := range []string{
		" instance=a",
		" upstream.provider=species",
		" upstream.state.from=closed",
		" upstream.state.to=open",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestPrettyHandler_Color(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	newPrettyLogger(&buf, true).Error("cache.shared.get.fail", "status", 503, "err", errors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, ansiRed+"ERROR"+ansiReset) {
		t.Fatalf("level not colored: %q", out)
	}
	if !strings.Contains(out, ansiRed+"503"+ansiReset) {
		t.Fatalf("5xx status not red: %q", out)
	}
	if !strings.Contains(out, ansiRed+"boom"+ansiReset) {
		t.Fatalf("err not red: %q", out)
	}
}

func TestPrettyHandler_Level(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered: %q", buf.String())
	}
}
