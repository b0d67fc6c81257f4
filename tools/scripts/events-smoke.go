// Package main is a CI-friendly smoke test for the live progress stream.
//
// Given a guest share token it:
//   - resolves the share and picks a mapping
//   - opens the WebSocket stream with the share token
//   - marks the mapping and expects a "set" event
//   - clears the mark and expects a "clear" event with the next seq
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	eventsv1 "fieldquest/shared/contracts/events/v1"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
)

const (
	subprotocol  = "fieldquest.events.v1"
	maxReadBytes = 1 << 20
)

type guestShare struct {
	ShareID     string `json:"share_id"`
	DisplayName string `json:"display_name"`
	Quest       struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"quest"`
	Mappings []struct {
		ID      string `json:"id"`
		TaxonID string `json:"taxon_id"`
	} `json:"mappings"`
}

type frame struct {
	Type string                   `json:"type"`
	Data eventsv1.ProgressUpdated `json:"data"`
}

func main() {
	var (
		base    = flag.String("base", "http://127.0.0.1:8080", "Server base URL")
		tok     = flag.String("token", "", "Guest share token (required)")
		mapping = flag.String("mapping", "", "Mapping ID to toggle (default: first mapping of the quest)")
		origin  = flag.String("origin", "http://localhost", "Origin header for the WebSocket handshake")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if strings.TrimSpace(*tok) == "" {
		fatalf("-token is required")
	}
	baseURL, err := url.Parse(strings.TrimRight(*base, "/"))
	if err != nil || (baseURL.Scheme != "http" && baseURL.Scheme != "https") || baseURL.Host == "" {
		fatalf("invalid -base: %q", *base)
	}

	root := context.Background()
	client := &http.Client{Timeout: *timeout}

	share := mustResolve(root, client, baseURL, *tok)
	mappingID := *mapping
	if mappingID == "" {
		if len(share.Mappings) == 0 {
			fatalf("quest %s has no mappings", share.Quest.ID)
		}
		mappingID = share.Mappings[0].ID
	}
	if *verbose {
		fmt.Printf("share=%s quest=%s mapping=%s name=%q\n", share.ShareID, share.Quest.ID, mappingID, share.DisplayName)
	}

	conn := mustDial(root, baseURL, share.Quest.ID, *tok, *origin, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	mustCall(root, client, http.MethodPost, progressURL(baseURL, *tok, mappingID), http.StatusOK)
	set := mustEvent(root, conn, eventsv1.ChangeSet, mappingID, *timeout)

	mustCall(root, client, http.MethodDelete, progressURL(baseURL, *tok, mappingID), http.StatusNoContent)
	clr := mustEvent(root, conn, eventsv1.ChangeClear, mappingID, *timeout)

	if clr.Seq != set.Seq+1 {
		fatalf("seq gap: set=%d clear=%d", set.Seq, clr.Seq)
	}
	fmt.Printf("OK: quest=%s mapping=%s seq=%d..%d\n", share.Quest.ID, mappingID, set.Seq, clr.Seq)
}

func mustResolve(ctx context.Context, c *http.Client, base *url.URL, tok string) guestShare {
	u := base.JoinPath("shares", "token", tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		fatalf("resolve: %v", err)
	}
	res, err := c.Do(req)
	if err != nil {
		fatalf("resolve: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		fatalf("resolve: status %d", res.StatusCode)
	}
	var gs guestShare
	if err := json.NewDecoder(io.LimitReader(res.Body, maxReadBytes)).Decode(&gs); err != nil {
		fatalf("resolve: decode: %v", err)
	}
	return gs
}

func progressURL(base *url.URL, tok, mappingID string) string {
	return base.JoinPath("shares", "token", tok, "progress", mappingID).String()
}

func mustCall(ctx context.Context, c *http.Client, method, u string, want int) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		fatalf("%s: %v", method, err)
	}
	res, err := c.Do(req)
	if err != nil {
		fatalf("%s: %v", method, err)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
	if res.StatusCode != want {
		fatalf("%s %s: status %d want %d", method, u, res.StatusCode, want)
	}
}

func mustDial(parent context.Context, base *url.URL, questID, tok, origin string, timeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	u := *base.JoinPath("quests", questID, "ws")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"share_token": {tok}}.Encode()

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	conn, res, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		fatalf("dial %s: status=%d err=%v", u.Redacted(), status, err)
	}
	if conn.Subprotocol() != subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol")
		fatalf("server selected subprotocol %q", conn.Subprotocol())
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

// mustEvent reads frames until one matches kind and mappingID.
func mustEvent(parent context.Context, conn *websocket.Conn, kind, mappingID string, timeout time.Duration) eventsv1.ProgressUpdated {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				fatalf("timed out waiting for %s event on %s", kind, mappingID)
			}
			fatalf("read: %v", err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			fatalf("decode frame: %v", err)
		}
		if f.Type != eventsv1.TypeProgressUpdated {
			continue
		}
		if err := f.Data.Validate(); err != nil {
			fatalf("invalid event: %v", err)
		}
		if f.Data.Change.Kind == kind && f.Data.Change.MappingID == mappingID {
			return f.Data
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
