package api_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"fieldquest/cmd/internal/access"
	"fieldquest/cmd/internal/api"
	"fieldquest/cmd/internal/cache"
	"fieldquest/cmd/internal/memstore"
	"fieldquest/cmd/internal/progress"
	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/internal/ratelimit"
	"fieldquest/cmd/internal/realtime"
	"fieldquest/cmd/internal/share"
	"fieldquest/cmd/internal/upstream"
	"fieldquest/cmd/security/token"
	eventsv1 "fieldquest/shared/contracts/events/v1"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

var jwtSecret = []byte(strings.Repeat("k", 32))

type testEnv struct {
	srv    *httptest.Server
	events *realtime.Broadcaster
}

func newTestEnv(t *testing.T, gw *upstream.Gateway) *testEnv {
	t.Helper()

	db := memstore.New()
	qs, err := quest.NewService(db.Quests())
	if err != nil {
		t.Fatalf("quest.NewService: %v", err)
	}
	hasher, err := token.NewHasher([]byte(strings.Repeat("s", 32)), token.PurposeShare)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	reg, err := share.NewRegistry(db.Shares(), db.Quests(), hasher)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	events := realtime.NewBroadcaster(realtime.Config{Heartbeat: time.Hour})
	t.Cleanup(func() { _ = events.Close() })

	ps, err := progress.NewService(db.Progress(), reg, db.Quests(), events)
	if err != nil {
		t.Fatalf("progress.NewService: %v", err)
	}
	v, err := access.NewJWTVerifier(access.VerifierConfig{Secret: jwtSecret})
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	guard, err := access.NewGuard(v, reg, db.Quests())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	h, err := api.NewHandler(nil, api.Config{}, api.Deps{
		Quests:   qs,
		Shares:   reg,
		Progress: ps,
		Guard:    guard,
		Events:   events,
		Upstream: gw,
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, events: events}
}

func bearer(t *testing.T, sub, username string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      sub,
		"username": username,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwtSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

type call struct {
	method string
	path   string
	bearer string
	share  string
	body   string
}

func (e *testEnv) do(t *testing.T, c call) (int, http.Header, []byte) {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req, err := http.NewRequest(c.method, e.srv.URL+c.path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.share != "" {
		req.Header.Set(access.HeaderShareToken, c.share)
	}
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", c.method, c.path, err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	return res.StatusCode, res.Header, raw
}

func (e *testEnv) mustJSON(t *testing.T, c call, want int, dst any) {
	t.Helper()
	status, _, raw := e.do(t, c)
	if status != want {
		t.Fatalf("%s %s status=%d want %d body=%s", c.method, c.path, status, want, raw)
	}
	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
}

type questOut struct {
	Quest    quest.Quest     `json:"quest"`
	Mappings []quest.Mapping `json:"mappings"`
}

type shareOut struct {
	Share share.Share `json:"share"`
	Token string      `json:"token"`
}

type errOut struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// seed creates a quest with two mappings and one named guest share.
func seed(t *testing.T, e *testEnv, owner string, private bool) (quest.Quest, []quest.Mapping, string) {
	t.Helper()
	var q questOut
	e.mustJSON(t, call{method: "POST", path: "/quests", bearer: owner,
		body: fmt.Sprintf(`{"title":"Spring birds","private":%t}`, private)}, http.StatusCreated, &q)

	var ms []quest.Mapping
	for _, taxon := range []string{"9083", "14886"} {
		var m quest.Mapping
		e.mustJSON(t, call{method: "POST", path: "/quests/" + q.Quest.ID + "/mappings", bearer: owner,
			body: `{"taxon_id":"` + taxon + `"}`}, http.StatusCreated, &m)
		ms = append(ms, m)
	}

	var sh shareOut
	e.mustJSON(t, call{method: "POST", path: "/quests/" + q.Quest.ID + "/shares", bearer: owner,
		body: `{"guest_name":"Alex","expires_in_seconds":3600}`}, http.StatusCreated, &sh)
	if sh.Token == "" || sh.Share.Kind != share.KindGuest {
		t.Fatalf("unexpected share response %+v", sh)
	}
	return q.Quest, ms, sh.Token
}

func TestAPI_GuestAndOwnerProgressFlow(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	owner := bearer(t, "user-1", "dana")
	q, ms, tok := seed(t, e, owner, true)

	var landing struct {
		ShareID     string          `json:"share_id"`
		DisplayName string          `json:"display_name"`
		Mappings    []quest.Mapping `json:"mappings"`
	}
	e.mustJSON(t, call{method: "GET", path: "/shares/token/" + tok}, http.StatusOK, &landing)
	if landing.DisplayName != "Alex" || len(landing.Mappings) != 2 {
		t.Fatalf("unexpected landing %+v", landing)
	}

	e.mustJSON(t, call{method: "POST", path: "/shares/token/" + tok + "/progress/" + ms[0].ID}, http.StatusOK, nil)
	e.mustJSON(t, call{method: "POST", path: "/shares/token/" + tok + "/progress/" + ms[0].ID}, http.StatusOK, nil)
	e.mustJSON(t, call{method: "POST", path: "/quests/" + q.ID + "/progress/" + ms[0].ID, bearer: owner}, http.StatusOK, nil)

	var agg struct {
		Aggregates []progress.Aggregate `json:"aggregates"`
	}
	e.mustJSON(t, call{method: "GET", path: "/quests/" + q.ID + "/progress/aggregate", share: tok}, http.StatusOK, &agg)
	if len(agg.Aggregates) != 2 || agg.Aggregates[0].Count != 2 || agg.Aggregates[1].Count != 0 {
		t.Fatalf("unexpected aggregates %+v", agg.Aggregates)
	}

	var lb struct {
		Entries []progress.LeaderboardEntry `json:"entries"`
	}
	e.mustJSON(t, call{method: "GET", path: "/quests/" + q.ID + "/progress/leaderboard", bearer: owner}, http.StatusOK, &lb)
	names := map[string]bool{}
	for _, en := range lb.Entries {
		names[en.DisplayName] = true
		if en.DisplayName == "Alex" && !en.HasAccessed {
			t.Fatalf("guest landing should mark the share accessed")
		}
	}
	if !names["Alex"] || !names["dana"] {
		t.Fatalf("leaderboard names=%v", names)
	}

	var det struct {
		Entries []progress.Detailed `json:"entries"`
	}
	e.mustJSON(t, call{method: "GET", path: "/quests/" + q.ID + "/progress/detailed", bearer: owner}, http.StatusOK, &det)
	if len(det.Entries) != 2 {
		t.Fatalf("detailed entries=%d want 2", len(det.Entries))
	}

	e.mustJSON(t, call{method: "DELETE", path: "/shares/token/" + tok + "/progress/" + ms[0].ID}, http.StatusNoContent, nil)
	e.mustJSON(t, call{method: "DELETE", path: "/shares/token/" + tok + "/progress/" + ms[0].ID}, http.StatusNoContent, nil)

	var after struct {
		Entries []progress.Detailed `json:"entries"`
	}
	e.mustJSON(t, call{method: "GET", path: "/quests/" + q.ID + "/progress/detailed", bearer: owner}, http.StatusOK, &after)
	if len(after.Entries) != 1 || after.Entries[0].DisplayName != "dana" {
		t.Fatalf("after clear entries=%+v want the owner's row only", after.Entries)
	}
	e.mustJSON(t, call{method: "DELETE", path: "/progress/" + after.Entries[0].ProgressID, bearer: owner}, http.StatusNoContent, nil)
}

func TestAPI_AuthErrors(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	owner := bearer(t, "user-1", "dana")
	stranger := bearer(t, "user-2", "sam")
	private, _, tok := seed(t, e, owner, true)
	public, _, otherTok := seed(t, e, owner, false)

	cases := []struct {
		name string
		c    call
		want int
		code string
	}{
		{"create without bearer", call{method: "POST", path: "/quests", body: `{"title":"x"}`}, 401, "unauthenticated"},
		{"create with garbage bearer", call{method: "POST", path: "/quests", bearer: "nope", body: `{"title":"x"}`}, 401, "unauthenticated"},
		{"private anonymous", call{method: "GET", path: "/quests/" + private.ID}, 401, "unauthenticated"},
		{"private stranger", call{method: "GET", path: "/quests/" + private.ID, bearer: stranger}, 403, "forbidden"},
		{"private foreign share", call{method: "GET", path: "/quests/" + private.ID, share: otherTok}, 403, "forbidden"},
		{"private own share", call{method: "GET", path: "/quests/" + private.ID, share: tok}, 200, ""},
		{"public anonymous", call{method: "GET", path: "/quests/" + public.ID}, 200, ""},
		{"unknown token", call{method: "GET", path: "/shares/token/AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"}, 404, "not_found"},
		{"malformed token", call{method: "GET", path: "/shares/token/%21%21"}, 404, "not_found"},
		{"unknown token header", call{method: "GET", path: "/quests/" + public.ID, share: "bogus"}, 404, "not_found"},
		{"stranger lists shares", call{method: "GET", path: "/quests/" + private.ID + "/shares", bearer: stranger}, 403, "forbidden"},
		{"stranger deletes quest", call{method: "DELETE", path: "/quests/" + private.ID, bearer: stranger}, 403, "forbidden"},
		{"unknown quest", call{method: "GET", path: "/quests/01HZZZZZZZZZZZZZZZZZZZZZZZ", bearer: owner}, 404, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, hdr, raw := e.do(t, tc.c)
			if status != tc.want {
				t.Fatalf("status=%d want %d body=%s", status, tc.want, raw)
			}
			if tc.code == "" {
				return
			}
			var out errOut
			if err := json.Unmarshal(raw, &out); err != nil || out.Error.Code != tc.code {
				t.Fatalf("error body=%s want code %s", raw, tc.code)
			}
			if tc.want == 401 && hdr.Get("WWW-Authenticate") == "" {
				t.Fatalf("401 must carry WWW-Authenticate")
			}
		})
	}
}

func TestAPI_RevokedShareIsNotFound(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	owner := bearer(t, "user-1", "dana")
	q, ms, tok := seed(t, e, owner, false)

	var landing struct {
		ShareID string `json:"share_id"`
	}
	e.mustJSON(t, call{method: "GET", path: "/shares/token/" + tok}, http.StatusOK, &landing)

	other, _, _ := seed(t, e, owner, false)
	e.mustJSON(t, call{method: "DELETE", path: "/quests/" + other.ID + "/shares/" + landing.ShareID, bearer: owner}, http.StatusNotFound, nil)
	e.mustJSON(t, call{method: "DELETE", path: "/quests/" + q.ID + "/shares/" + landing.ShareID, bearer: owner}, http.StatusNoContent, nil)

	e.mustJSON(t, call{method: "GET", path: "/shares/token/" + tok}, http.StatusNotFound, nil)
	e.mustJSON(t, call{method: "POST", path: "/shares/token/" + tok + "/progress/" + ms[0].ID}, http.StatusNotFound, nil)

	var list struct {
		Shares []share.Share `json:"shares"`
	}
	e.mustJSON(t, call{method: "GET", path: "/quests/" + q.ID + "/shares", bearer: owner}, http.StatusOK, &list)
	if len(list.Shares) != 1 || list.Shares[0].RevokedAt == nil || list.Shares[0].AccessedAt == nil {
		t.Fatalf("unexpected share listing %+v", list.Shares)
	}
}

func TestAPI_Validation(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	owner := bearer(t, "user-1", "dana")
	q, _, _ := seed(t, e, owner, false)

	cases := []struct {
		name    string
		c       call
		code    string
		message string
	}{
		{"empty title", call{method: "POST", path: "/quests", bearer: owner, body: `{"title":""}`}, "invalid_request", "title is required"},
		{"unknown field", call{method: "POST", path: "/quests", bearer: owner, body: `{"title":"x","color":"red"}`}, "invalid_json", ""},
		{"trailing data", call{method: "POST", path: "/quests", bearer: owner, body: `{"title":"x"}{}`}, "invalid_json", ""},
		{"long guest name", call{method: "POST", path: "/quests/" + q.ID + "/shares", bearer: owner,
			body: `{"guest_name":"` + strings.Repeat("n", 65) + `"}`}, "invalid_request", "guest_name must be at most 64 long"},
		{"share ttl too long", call{method: "POST", path: "/quests/" + q.ID + "/shares", bearer: owner,
			body: `{"expires_in_seconds":999999999}`}, "invalid_request", "expires_in_seconds is out of range"},
		{"negative share ttl", call{method: "POST", path: "/quests/" + q.ID + "/shares", bearer: owner,
			body: `{"expires_in_seconds":-5}`}, "invalid_request", ""},
		{"missing taxon", call{method: "POST", path: "/quests/" + q.ID + "/mappings", bearer: owner, body: `{"label":"x"}`}, "invalid_request", "taxon_id is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _, raw := e.do(t, tc.c)
			if status != http.StatusBadRequest {
				t.Fatalf("status=%d want 400 body=%s", status, raw)
			}
			var out errOut
			if err := json.Unmarshal(raw, &out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Error.Code != tc.code {
				t.Fatalf("code=%q want %q", out.Error.Code, tc.code)
			}
			if tc.message != "" && out.Error.Message != tc.message {
				t.Fatalf("message=%q want %q", out.Error.Message, tc.message)
			}
		})
	}
}

func TestAPI_CrossQuestMarkIsNotFound(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	owner := bearer(t, "user-1", "dana")
	q, _, tok := seed(t, e, owner, false)
	_, otherMappings, _ := seed(t, e, owner, false)

	for _, method := range []string{"POST", "DELETE"} {
		e.mustJSON(t, call{method: method, path: "/shares/token/" + tok + "/progress/" + otherMappings[0].ID}, http.StatusNotFound, nil)
	}

	var agg struct {
		Aggregates []struct {
			MappingID string `json:"mapping_id"`
			Count     int    `json:"count"`
		} `json:"aggregates"`
	}
	e.mustJSON(t, call{method: "GET", path: "/quests/" + q.ID + "/progress/aggregate", bearer: owner}, http.StatusOK, &agg)
	for _, a := range agg.Aggregates {
		if a.Count != 0 {
			t.Fatalf("mapping %s count=%d after rejected marks", a.MappingID, a.Count)
		}
	}
}

func TestAPI_ShareWithoutBodyUsesDefaults(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	owner := bearer(t, "user-1", "dana")
	q, _, _ := seed(t, e, owner, false)

	var sh shareOut
	e.mustJSON(t, call{method: "POST", path: "/quests/" + q.ID + "/shares", bearer: owner}, http.StatusCreated, &sh)
	if sh.Share.ExpiresAt != nil || sh.Share.GuestName != nil {
		t.Fatalf("expected open-ended anonymous share, got %+v", sh.Share)
	}

	var landing struct {
		DisplayName string `json:"display_name"`
	}
	e.mustJSON(t, call{method: "GET", path: "/shares/token/" + sh.Token}, http.StatusOK, &landing)
	if landing.DisplayName != share.GuestFallbackName {
		t.Fatalf("display name=%q", landing.DisplayName)
	}
}

func TestAPI_SSEDeliversProgressEvents(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	owner := bearer(t, "user-1", "dana")
	q, ms, tok := seed(t, e, owner, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// EventSource cannot set headers, so the token rides in the query.
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		e.srv.URL+"/quests/"+q.ID+"/events?share_token="+url.QueryEscape(tok), nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK || !strings.HasPrefix(res.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("status=%d content-type=%q", res.StatusCode, res.Header.Get("Content-Type"))
	}

	deadline := time.Now().Add(3 * time.Second)
	for e.events.Count(q.ID) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.mustJSON(t, call{method: "POST", path: "/shares/token/" + tok + "/progress/" + ms[1].ID}, http.StatusOK, nil)

	br := bufio.NewReader(res.Body)
	var event, data string
	for event == "" || data == "" {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	if event != eventsv1.TypeProgressUpdated {
		t.Fatalf("event=%q", event)
	}
	var ev eventsv1.ProgressUpdated
	if err := json.NewDecoder(bytes.NewReader([]byte(data))).Decode(&ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.QuestID != q.ID || ev.Seq != 1 || ev.Change.Kind != eventsv1.ChangeSet || ev.Change.DisplayName != "Alex" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestAPI_SSERequiresAccessToPrivateQuest(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	owner := bearer(t, "user-1", "dana")
	q, _, _ := seed(t, e, owner, true)

	status, _, _ := e.do(t, call{method: "GET", path: "/quests/" + q.ID + "/events"})
	if status != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", status)
	}
	if n := e.events.Count(q.ID); n != 0 {
		t.Fatalf("rejected request must not subscribe, count=%d", n)
	}
}

func newGatewayFor(t *testing.T, h http.HandlerFunc) *upstream.Gateway {
	t.Helper()
	stub := httptest.NewServer(h)
	t.Cleanup(stub.Close)

	tier, err := cache.New(cache.Config{}, nil)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	budget := ratelimit.ScopeConfig{
		Normal:     ratelimit.Bucket{Points: 20, Duration: time.Minute},
		Aggressive: ratelimit.Bucket{Points: 2, Duration: time.Minute},
	}
	lim, err := ratelimit.New(ratelimit.NewMemoryStore(), map[string]ratelimit.ScopeConfig{
		upstream.ProviderSpecies: budget,
		upstream.ProviderGeocode: budget,
		upstream.ProviderTiles:   budget,
	})
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}
	pc := upstream.ProviderConfig{BaseURL: stub.URL, Retries: 1, InitialBackoff: time.Millisecond}
	gw, err := upstream.New(upstream.Config{Species: pc, Geocode: pc, Tiles: pc}, tier, lim)
	if err != nil {
		t.Fatalf("upstream.New: %v", err)
	}
	return gw
}

func TestAPI_UpstreamProxy(t *testing.T) {
	t.Parallel()

	gw := newGatewayFor(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/species/"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"9083"}`))
		case strings.HasSuffix(r.URL.Path, ".png"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
		default:
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		}
	})
	e := newTestEnv(t, gw)

	status, hdr, raw := e.do(t, call{method: "GET", path: "/species/9083"})
	if status != 200 || string(raw) != `{"id":"9083"}` || hdr.Get("X-Cache") != "MISS" {
		t.Fatalf("species status=%d x-cache=%s body=%s", status, hdr.Get("X-Cache"), raw)
	}
	if _, hdr, _ = e.do(t, call{method: "GET", path: "/species/9083"}); hdr.Get("X-Cache") != "HIT" {
		t.Fatalf("second species call should hit cache")
	}

	status, hdr, raw = e.do(t, call{method: "GET", path: "/tiles/3/2/5.png"})
	if status != 200 || hdr.Get("Content-Type") != "image/png" || len(raw) != 4 {
		t.Fatalf("tile status=%d ct=%s len=%d", status, hdr.Get("Content-Type"), len(raw))
	}

	status, hdr, _ = e.do(t, call{method: "GET", path: "/geocode?q=lisbon"})
	if status != http.StatusTooManyRequests || hdr.Get("Retry-After") != "3" {
		t.Fatalf("geocode status=%d retry-after=%q", status, hdr.Get("Retry-After"))
	}

	for _, path := range []string{"/tiles/a/0/0", "/tiles/1/5/0", "/geocode?q=", "/species/bad%20id"} {
		if status, _, raw := e.do(t, call{method: "GET", path: path}); status != http.StatusBadRequest {
			t.Fatalf("%s status=%d body=%s", path, status, raw)
		}
	}
}

func TestAPI_Upstream429WithoutHintStillSetsRetryAfter(t *testing.T) {
	t.Parallel()

	gw := newGatewayFor(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	e := newTestEnv(t, gw)

	// Aggressive budget is 2/min.
	status, hdr, _ := e.do(t, call{method: "GET", path: "/geocode?q=lisbon"})
	if status != http.StatusTooManyRequests || hdr.Get("Retry-After") != "30" {
		t.Fatalf("status=%d retry-after=%q want 429 with 30", status, hdr.Get("Retry-After"))
	}
}

func TestAPI_UpstreamNotConfigured(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	if status, _, _ := e.do(t, call{method: "GET", path: "/species/1"}); status != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", status)
	}
}

func TestNewHandler_RequiresDeps(t *testing.T) {
	t.Parallel()

	if _, err := api.NewHandler(nil, api.Config{}, api.Deps{}); err == nil {
		t.Fatalf("expected error for missing deps")
	}
}
