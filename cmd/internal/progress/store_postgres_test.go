package progress_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fieldquest/cmd/internal/pgschema/pgtest"
	"fieldquest/cmd/internal/progress"
	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/internal/share"
	"fieldquest/cmd/security/token"
)

func TestPostgresStores_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	pool := pgtest.Pool(t)
	schema := pgtest.Schema(t, pool)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	qStore, err := quest.NewPostgresStore(pool, quest.WithSchema(schema))
	if err != nil {
		t.Fatalf("quest store: %v", err)
	}
	sStore, err := share.NewPostgresStore(pool, share.WithSchema(schema))
	if err != nil {
		t.Fatalf("share store: %v", err)
	}
	pStore, err := progress.NewPostgresStore(pool, progress.WithSchema(schema))
	if err != nil {
		t.Fatalf("progress store: %v", err)
	}

	clk := &clock{now: time.Now().UTC().Truncate(time.Microsecond)}
	qs, _ := quest.NewService(qStore)
	h, _ := token.NewHasher([]byte(strings.Repeat("p", 32)), token.PurposeShare)
	reg, err := share.NewRegistry(sStore, qStore, h, share.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	pub := &recorder{}
	svc, err := progress.NewService(pStore, reg, qStore, pub, progress.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	owner := quest.Owner{UserID: "user-pg", Username: "dana"}
	q, err := qs.Create(ctx, owner, quest.CreateInput{Title: "Ferns", Now: clk.Now()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	m1, err := qs.AddMapping(ctx, owner.UserID, q.ID, "47170", "Bracken")
	if err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	m2, err := qs.AddMapping(ctx, owner.UserID, q.ID, "47171", "")
	if err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	if _, err := qs.AddMapping(ctx, owner.UserID, q.ID, "47170", ""); !errors.Is(err, quest.ErrDuplicate) {
		t.Fatalf("duplicate mapping err=%v", err)
	}

	name := "Alex"
	guest, tok, err := reg.CreateShare(ctx, share.CreateInput{QuestID: q.ID, OwnerID: owner.UserID, GuestName: &name})
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}
	if r, err := reg.Resolve(ctx, tok); err != nil || r.Share.ID != guest.ID {
		t.Fatalf("Resolve: %+v %v", r, err)
	}

	first, err := svc.SetObserved(ctx, guest.ID, m1.ID)
	if err != nil {
		t.Fatalf("SetObserved: %v", err)
	}
	clk.Advance(time.Second)
	second, err := svc.SetObserved(ctx, guest.ID, m1.ID)
	if err != nil {
		t.Fatalf("SetObserved again: %v", err)
	}
	if first.ID != second.ID || !second.ObservedAt.After(first.ObservedAt) {
		t.Fatalf("upsert not idempotent: %+v -> %+v", first, second)
	}

	own, err := reg.OwnerShare(ctx, q.ID, owner.UserID)
	if err != nil {
		t.Fatalf("OwnerShare: %v", err)
	}
	again, err := reg.OwnerShare(ctx, q.ID, owner.UserID)
	if err != nil || again.Share.ID != own.Share.ID {
		t.Fatalf("owner share not unique: %v", err)
	}
	clk.Advance(time.Second)
	if _, err := svc.SetObserved(ctx, own.Share.ID, m1.ID); err != nil {
		t.Fatalf("owner SetObserved: %v", err)
	}

	aggs, err := svc.GetAggregatedProgress(ctx, q.ID)
	if err != nil {
		t.Fatalf("GetAggregatedProgress: %v", err)
	}
	if len(aggs) != 2 || aggs[0].MappingID != m1.ID || aggs[0].Count != 2 || aggs[0].LastDisplayName != "dana" {
		t.Fatalf("aggregates=%+v", aggs)
	}
	if aggs[1].MappingID != m2.ID || aggs[1].Count != 0 {
		t.Fatalf("m2 aggregate=%+v", aggs[1])
	}

	board, err := svc.GetLeaderboard(ctx, q.ID)
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if len(board) != 2 || board[0].ShareID != guest.ID || board[0].HasAccessed {
		t.Fatalf("leaderboard=%+v", board)
	}

	if err := reg.Revoke(ctx, guest.ID, owner.UserID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := reg.Resolve(ctx, tok); !errors.Is(err, share.ErrNotFound) {
		t.Fatalf("revoked Resolve err=%v", err)
	}

	if err := qs.RemoveMapping(ctx, owner.UserID, q.ID, m1.ID); err != nil {
		t.Fatalf("RemoveMapping: %v", err)
	}
	rows, err := svc.GetDetailedProgress(ctx, q.ID)
	if err != nil {
		t.Fatalf("GetDetailedProgress: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("progress not cascaded: %+v", rows)
	}

	if err := qs.Delete(ctx, owner.UserID, q.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := reg.Get(ctx, guest.ID); !errors.Is(err, share.ErrNotFound) {
		t.Fatalf("share not cascaded: %v", err)
	}
	if len(pub.all()) != 3 {
		t.Fatalf("events=%d want 3", len(pub.all()))
	}
}
