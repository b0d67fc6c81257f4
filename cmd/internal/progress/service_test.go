package progress_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldquest/cmd/internal/fault"
	"fieldquest/cmd/internal/memstore"
	"fieldquest/cmd/internal/progress"
	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/internal/share"
	"fieldquest/cmd/security/token"
	eventsv1 "fieldquest/shared/contracts/events/v1"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []eventsv1.ProgressUpdated
}

func (r *recorder) Publish(_ string, ev eventsv1.ProgressUpdated) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []eventsv1.ProgressUpdated {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventsv1.ProgressUpdated(nil), r.events...)
}

type fixture struct {
	clk      *clock
	quests   *quest.Service
	registry *share.Registry
	svc      *progress.Service
	pub      *recorder
	owner    quest.Owner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := &clock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	db := memstore.New()

	qs, err := quest.NewService(db.Quests())
	if err != nil {
		t.Fatalf("quest.NewService: %v", err)
	}
	hasher, err := token.NewHasher([]byte(strings.Repeat("s", 32)), token.PurposeShare)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	reg, err := share.NewRegistry(db.Shares(), db.Quests(), hasher, share.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	pub := &recorder{}
	svc, err := progress.NewService(db.Progress(), reg, db.Quests(), pub, progress.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("progress.NewService: %v", err)
	}

	return &fixture{
		clk:      clk,
		quests:   qs,
		registry: reg,
		svc:      svc,
		pub:      pub,
		owner:    quest.Owner{UserID: "user-1", Username: "dana"},
	}
}

func (f *fixture) quest(t *testing.T, private bool, taxa ...string) (quest.Quest, []quest.Mapping) {
	t.Helper()
	ctx := context.Background()

	q, err := f.quests.Create(ctx, f.owner, quest.CreateInput{Title: "Spring birds", Private: private, Now: f.clk.Now()})
	if err != nil {
		t.Fatalf("Create quest: %v", err)
	}
	ms := make([]quest.Mapping, 0, len(taxa))
	for _, taxon := range taxa {
		m, err := f.quests.AddMapping(ctx, f.owner.UserID, q.ID, taxon, "")
		if err != nil {
			t.Fatalf("AddMapping: %v", err)
		}
		ms = append(ms, m)
	}
	return q, ms
}

func (f *fixture) guest(t *testing.T, questID, name string, expiresAt *time.Time) (share.Share, string) {
	t.Helper()
	var guestName *string
	if name != "" {
		guestName = &name
	}
	sh, tok, err := f.registry.CreateShare(context.Background(), share.CreateInput{
		QuestID:   questID,
		OwnerID:   f.owner.UserID,
		GuestName: guestName,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}
	return sh, tok
}

func TestScenario_GuestMarkPublishesAggregate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	q, ms := f.quest(t, false, "101", "202")
	m1, m2 := ms[0], ms[1]
	s, _ := f.guest(t, q.ID, "Alex", nil)

	if _, err := f.svc.SetObserved(ctx, s.ID, m1.ID); err != nil {
		t.Fatalf("SetObserved: %v", err)
	}

	aggs, err := f.svc.GetAggregatedProgress(ctx, q.ID)
	if err != nil {
		t.Fatalf("GetAggregatedProgress: %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("aggregates=%d want 2", len(aggs))
	}
	if aggs[0].MappingID != m1.ID || aggs[0].Count != 1 || aggs[0].LastDisplayName != "Alex" {
		t.Fatalf("m1 aggregate=%+v", aggs[0])
	}
	if aggs[1].MappingID != m2.ID || aggs[1].Count != 0 || aggs[1].LastDisplayName != "" || aggs[1].LastObservedAt != nil {
		t.Fatalf("m2 aggregate=%+v", aggs[1])
	}

	events := f.pub.all()
	if len(events) != 1 {
		t.Fatalf("events=%d want 1", len(events))
	}
	ev := events[0]
	if ev.QuestID != q.ID || ev.Seq != 1 || ev.Change.Kind != eventsv1.ChangeSet || ev.Change.DisplayName != "Alex" {
		t.Fatalf("event=%+v", ev)
	}
	if len(ev.Aggregates) != 2 || ev.Aggregates[0].Count != 1 || ev.Aggregates[1].Count != 0 {
		t.Fatalf("event aggregates=%+v", ev.Aggregates)
	}
}

func TestSetObserved_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	q, ms := f.quest(t, false, "101")
	s, _ := f.guest(t, q.ID, "", nil)

	first, err := f.svc.SetObserved(ctx, s.ID, ms[0].ID)
	if err != nil {
		t.Fatalf("SetObserved: %v", err)
	}
	f.clk.Advance(time.Minute)
	second, err := f.svc.SetObserved(ctx, s.ID, ms[0].ID)
	if err != nil {
		t.Fatalf("SetObserved again: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("second mark created a new row: %s vs %s", first.ID, second.ID)
	}
	if !second.ObservedAt.After(first.ObservedAt) {
		t.Fatalf("timestamp not advanced: %s -> %s", first.ObservedAt, second.ObservedAt)
	}

	rows, err := f.svc.GetDetailedProgress(ctx, q.ID)
	if err != nil {
		t.Fatalf("GetDetailedProgress: %v", err)
	}
	if len(rows) != 1 || !rows[0].ObservedAt.Equal(second.ObservedAt) {
		t.Fatalf("detailed=%+v", rows)
	}
	if rows[0].DisplayName != share.GuestFallbackName {
		t.Fatalf("display name=%q want Guest", rows[0].DisplayName)
	}
}

func TestLeaderboard_CountThenInvitationOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	q, ms := f.quest(t, false, "1", "2", "3", "4", "5")
	a, _ := f.guest(t, q.ID, "A", nil)
	f.clk.Advance(time.Second)
	b, _ := f.guest(t, q.ID, "B", nil)
	f.clk.Advance(time.Second)
	c, _ := f.guest(t, q.ID, "C", nil)

	mark := func(sh share.Share, n int) {
		for i := 0; i < n; i++ {
			if _, err := f.svc.SetObserved(ctx, sh.ID, ms[i].ID); err != nil {
				t.Fatalf("SetObserved: %v", err)
			}
		}
	}
	mark(a, 3)
	mark(b, 3)
	mark(c, 5)

	board, err := f.svc.GetLeaderboard(ctx, q.ID)
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if len(board) != 3 {
		t.Fatalf("entries=%d want 3", len(board))
	}
	got := []string{board[0].DisplayName, board[1].DisplayName, board[2].DisplayName}
	if fmt.Sprint(got) != "[C A B]" {
		t.Fatalf("order=%v want [C A B]", got)
	}
	for i, e := range board {
		if e.Rank != i+1 {
			t.Fatalf("rank=%d at %d", e.Rank, i)
		}
	}
	if board[0].Count != 5 || board[0].LastProgressAt == nil {
		t.Fatalf("C entry=%+v", board[0])
	}
}

func TestRankLeaderboard_ShareIDBreaksFullTies(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []progress.LeaderboardEntry{
		{ShareID: "b", Count: 1, InvitedAt: at},
		{ShareID: "a", Count: 1, InvitedAt: at},
	}
	progress.RankLeaderboard(entries)
	if entries[0].ShareID != "a" || entries[0].Rank != 1 {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestSetObserved_CrossQuestMappingRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	x, _ := f.quest(t, false, "1")
	_, yMappings := f.quest(t, false, "2")
	s, _ := f.guest(t, x.ID, "Alex", nil)

	_, err := f.svc.SetObserved(ctx, s.ID, yMappings[0].ID)
	if !errors.Is(err, progress.ErrCrossQuest) || !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected cross-quest not-found error, got %v", err)
	}
	if err := f.svc.ClearObserved(ctx, s.ID, yMappings[0].ID); !errors.Is(err, progress.ErrCrossQuest) {
		t.Fatalf("ClearObserved cross-quest err=%v", err)
	}
	if n := len(f.pub.all()); n != 0 {
		t.Fatalf("rejected write published %d events", n)
	}
}

func TestExpiredShare_ResolvesAsNotFoundAndCannotMark(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	q, ms := f.quest(t, false, "1")
	exp := f.clk.Now().Add(time.Hour)
	s2, tok := f.guest(t, q.ID, "Sam", &exp)

	f.clk.Advance(2 * time.Hour)

	if _, err := f.registry.Resolve(ctx, tok); !errors.Is(err, share.ErrNotFound) {
		t.Fatalf("Resolve expired err=%v want ErrNotFound", err)
	}
	_, err := f.svc.SetObserved(ctx, s2.ID, ms[0].ID)
	if !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("SetObserved via expired share err=%v want not found", err)
	}
}

func TestRevokedShare_HistoryPreserved(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	q, ms := f.quest(t, false, "1")
	s, _ := f.guest(t, q.ID, "Alex", nil)
	if _, err := f.svc.SetObserved(ctx, s.ID, ms[0].ID); err != nil {
		t.Fatalf("SetObserved: %v", err)
	}
	if err := f.registry.Revoke(ctx, s.ID, f.owner.UserID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := f.svc.SetObserved(ctx, s.ID, ms[0].ID); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("revoked share still marks: %v", err)
	}

	aggs, _ := f.svc.GetAggregatedProgress(ctx, q.ID)
	if aggs[0].Count != 1 {
		t.Fatalf("revocation dropped history: %+v", aggs[0])
	}
	board, _ := f.svc.GetLeaderboard(ctx, q.ID)
	if len(board) != 1 || !board[0].Revoked || board[0].Count != 1 {
		t.Fatalf("leaderboard=%+v", board)
	}
}

func TestClearObserved_NoopWhenAbsent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	q, ms := f.quest(t, false, "1")
	s, _ := f.guest(t, q.ID, "Alex", nil)

	if err := f.svc.ClearObserved(ctx, s.ID, ms[0].ID); err != nil {
		t.Fatalf("ClearObserved on empty: %v", err)
	}
	if n := len(f.pub.all()); n != 0 {
		t.Fatalf("no-op clear published %d events", n)
	}

	_, _ = f.svc.SetObserved(ctx, s.ID, ms[0].ID)
	if err := f.svc.ClearObserved(ctx, s.ID, ms[0].ID); err != nil {
		t.Fatalf("ClearObserved: %v", err)
	}
	aggs, _ := f.svc.GetAggregatedProgress(ctx, q.ID)
	if aggs[0].Count != 0 {
		t.Fatalf("count after clear=%d", aggs[0].Count)
	}
	events := f.pub.all()
	if len(events) != 2 || events[1].Change.Kind != eventsv1.ChangeClear || events[1].Seq != 2 {
		t.Fatalf("events=%+v", events)
	}
}

func TestDeleteProgress_OwnerOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	q, ms := f.quest(t, false, "1")
	s, _ := f.guest(t, q.ID, "Alex", nil)
	p, err := f.svc.SetObserved(ctx, s.ID, ms[0].ID)
	if err != nil {
		t.Fatalf("SetObserved: %v", err)
	}

	if err := f.svc.DeleteProgress(ctx, "someone-else", p.ID); !errors.Is(err, fault.ErrForbidden) {
		t.Fatalf("non-owner delete err=%v want forbidden", err)
	}
	if err := f.svc.DeleteProgress(ctx, f.owner.UserID, p.ID); err != nil {
		t.Fatalf("DeleteProgress: %v", err)
	}
	if err := f.svc.DeleteProgress(ctx, f.owner.UserID, p.ID); err != nil {
		t.Fatalf("second DeleteProgress must be a no-op, got %v", err)
	}
	if rows, _ := f.svc.GetDetailedProgress(ctx, q.ID); len(rows) != 0 {
		t.Fatalf("rows after delete=%d", len(rows))
	}
}

func TestOwnerShare_ShowsUsername(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	q, ms := f.quest(t, true, "1")
	own, err := f.registry.OwnerShare(ctx, q.ID, f.owner.UserID)
	if err != nil {
		t.Fatalf("OwnerShare: %v", err)
	}
	again, err := f.registry.OwnerShare(ctx, q.ID, f.owner.UserID)
	if err != nil || again.Share.ID != own.Share.ID {
		t.Fatalf("owner share not stable: %v", err)
	}

	if _, err := f.svc.SetObserved(ctx, own.Share.ID, ms[0].ID); err != nil {
		t.Fatalf("SetObserved: %v", err)
	}
	aggs, _ := f.svc.GetAggregatedProgress(ctx, q.ID)
	if aggs[0].LastDisplayName != "dana" {
		t.Fatalf("owner display name=%q want dana", aggs[0].LastDisplayName)
	}
}

func TestEvents_TotalOrderPerQuest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	const guests = 12
	taxa := make([]string, 4)
	for i := range taxa {
		taxa[i] = fmt.Sprint(i + 1)
	}
	q, ms := f.quest(t, false, taxa...)

	shares := make([]share.Share, guests)
	for i := range shares {
		shares[i], _ = f.guest(t, q.ID, fmt.Sprintf("g%d", i), nil)
	}

	var wg sync.WaitGroup
	for i := 0; i < guests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for _, m := range ms {
				if _, err := f.svc.SetObserved(ctx, shares[i].ID, m.ID); err != nil {
					t.Errorf("SetObserved: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	events := f.pub.all()
	if len(events) != guests*len(ms) {
		t.Fatalf("events=%d want %d", len(events), guests*len(ms))
	}
	total := 0
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
		sum := 0
		for _, a := range ev.Aggregates {
			sum += a.Count
		}
		// Each completed write adds exactly one mark, in publish order.
		if sum != total+1 {
			t.Fatalf("event %d total marks=%d want %d", i, sum, total+1)
		}
		total = sum
	}
}

func TestRemoveMapping_CascadesProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	q, ms := f.quest(t, false, "1", "2")
	s, _ := f.guest(t, q.ID, "Alex", nil)
	_, _ = f.svc.SetObserved(ctx, s.ID, ms[0].ID)
	_, _ = f.svc.SetObserved(ctx, s.ID, ms[1].ID)

	if err := f.quests.RemoveMapping(ctx, f.owner.UserID, q.ID, ms[0].ID); err != nil {
		t.Fatalf("RemoveMapping: %v", err)
	}
	rows, _ := f.svc.GetDetailedProgress(ctx, q.ID)
	if len(rows) != 1 || rows[0].MappingID != ms[1].ID {
		t.Fatalf("rows after mapping removal=%+v", rows)
	}
	board, _ := f.svc.GetLeaderboard(ctx, q.ID)
	if board[0].Count != 1 {
		t.Fatalf("leaderboard count=%d want 1", board[0].Count)
	}
}

func TestReads_UnknownQuest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.svc.GetAggregatedProgress(context.Background(), "01HZY3J9E7Q2M9R4X6V8T0B1C2"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("err=%v want not found", err)
	}
	if _, err := f.svc.GetLeaderboard(context.Background(), " "); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("err=%v want validation", err)
	}
}

// cancelAfterWrite cancels the caller's context as soon as a write commits,
// like a client that disconnects mid-request.
type cancelAfterWrite struct {
	progress.Store
	cancel context.CancelFunc
}

func (c cancelAfterWrite) Upsert(ctx context.Context, p progress.Progress) (progress.Progress, error) {
	out, err := c.Store.Upsert(ctx, p)
	c.cancel()
	return out, err
}

func (c cancelAfterWrite) DeleteByPair(ctx context.Context, shareID, mappingID string) (bool, error) {
	ok, err := c.Store.DeleteByPair(ctx, shareID, mappingID)
	c.cancel()
	return ok, err
}

func TestWrite_PublishesAfterCallerCancels(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	db := memstore.New()
	qs, err := quest.NewService(db.Quests())
	if err != nil {
		t.Fatal(err)
	}
	hasher, err := token.NewHasher([]byte(strings.Repeat("s", 32)), token.PurposeShare)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := share.NewRegistry(db.Shares(), db.Quests(), hasher, share.WithClock(clk.Now))
	if err != nil {
		t.Fatal(err)
	}

	owner := quest.Owner{UserID: "user-1", Username: "dana"}
	q, err := qs.Create(context.Background(), owner, quest.CreateInput{Title: "Spring birds", Now: clk.Now()})
	if err != nil {
		t.Fatal(err)
	}
	m, err := qs.AddMapping(context.Background(), owner.UserID, q.ID, "9083", "")
	if err != nil {
		t.Fatal(err)
	}
	name := "Alex"
	sh, _, err := reg.CreateShare(context.Background(), share.CreateInput{QuestID: q.ID, OwnerID: owner.UserID, GuestName: &name})
	if err != nil {
		t.Fatal(err)
	}

	for _, kind := range []string{eventsv1.ChangeSet, eventsv1.ChangeClear} {
		t.Run(kind, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			pub := &recorder{}
			svc, err := progress.NewService(cancelAfterWrite{Store: db.Progress(), cancel: cancel}, reg, db.Quests(), pub, progress.WithClock(clk.Now))
			if err != nil {
				t.Fatal(err)
			}
			if kind == eventsv1.ChangeSet {
				_, err = svc.SetObserved(ctx, sh.ID, m.ID)
			} else {
				err = svc.ClearObserved(ctx, sh.ID, m.ID)
			}
			if err != nil {
				t.Fatalf("%s: %v", kind, err)
			}
			if ctx.Err() == nil {
				t.Fatal("context was not cancelled by the write")
			}

			evs := pub.all()
			if len(evs) != 1 || evs[0].Change.Kind != kind {
				t.Fatalf("events=%+v want one %s", evs, kind)
			}
			want := 1
			if kind == eventsv1.ChangeClear {
				want = 0
			}
			if got := evs[0].Aggregates[0].Count; got != want {
				t.Fatalf("aggregate count=%d want %d", got, want)
			}
		})
	}
}
