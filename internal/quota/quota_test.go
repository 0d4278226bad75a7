package quota

import (
	"context"
	"testing"
	"time"

	"github.com/aliskhannn/image-transcoder/internal/tier"
)

func newTestLedger(t *testing.T, limits tier.Limits) (*Ledger, *MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	provider := tier.NewStaticProvider(map[string]tier.Limits{tier.Free: limits})
	l := NewLedger(store, provider).WithClock(func() time.Time { return now })
	return l, store, &now
}

func TestCanPerformWithinLimits(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, tier.Limits{Hourly: 5, Daily: 10})
	id := Identity{ID: "session-a", Tier: tier.Free}

	d, err := l.CanPerform(ctx, id, KindCompress, 3)
	if err != nil {
		t.Fatalf("CanPerform: %v", err)
	}
	if !d.Allowed || d.Remaining != 5 {
		t.Fatalf("expected allowed with 5 remaining, got %+v", d)
	}

	if err := l.Record(ctx, id, KindCompress, 3); err != nil {
		t.Fatalf("Record: %v", err)
	}

	d, _ = l.CanPerform(ctx, id, KindCompress, 3)
	if d.Allowed || d.Exhausted != Hourly || d.Remaining != 2 {
		t.Fatalf("expected hourly denial with 2 remaining, got %+v", d)
	}

	d, _ = l.CanPerform(ctx, id, KindCompress, 2)
	if !d.Allowed {
		t.Fatalf("expected exactly the remaining amount to be allowed, got %+v", d)
	}
}

func TestRolloverResetsBeforeEvaluation(t *testing.T) {
	ctx := context.Background()
	l, store, now := newTestLedger(t, tier.Limits{Hourly: 2})
	id := Identity{ID: "user-1", Tier: tier.Free}

	store.Set(key(KindCompress, id, Hourly), Counter{Start: now.Add(-2 * time.Hour), Count: 2})

	d, err := l.CanPerform(ctx, id, KindCompress, 2)
	if err != nil {
		t.Fatalf("CanPerform: %v", err)
	}
	if !d.Allowed || d.Remaining != 2 {
		t.Fatalf("expected reset counter, got %+v", d)
	}

	if err := l.Record(ctx, id, KindCompress, 1); err != nil {
		t.Fatalf("Record: %v", err)
	}
	c, _ := store.Get(ctx, key(KindCompress, id, Hourly))
	if c.Count != 1 || !c.Start.Equal(*now) {
		t.Fatalf("expected rolled counter {now, 1}, got %+v", c)
	}
}

func TestWindowStillOpenKeepsCount(t *testing.T) {
	ctx := context.Background()
	l, store, now := newTestLedger(t, tier.Limits{Daily: 3})
	id := Identity{ID: "user-2", Tier: tier.Free}

	store.Set(key(KindCompress, id, Daily), Counter{Start: now.Add(-23 * time.Hour), Count: 3})

	d, _ := l.CanPerform(ctx, id, KindCompress, 1)
	if d.Allowed || d.Exhausted != Daily {
		t.Fatalf("expected daily denial, got %+v", d)
	}
}

func TestUnlimitedTier(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, tier.Limits{})
	id := Identity{ID: "anon", Tier: "unknown"}

	d, err := l.CanPerform(ctx, id, KindCompress, 1000)
	if err != nil {
		t.Fatalf("CanPerform: %v", err)
	}
	if !d.Allowed || d.Remaining != -1 {
		t.Fatalf("expected unlimited, got %+v", d)
	}
}

func TestUsageReportsResetTime(t *testing.T) {
	ctx := context.Background()
	l, _, now := newTestLedger(t, tier.Limits{Hourly: 10, Daily: 20, Monthly: 30})
	id := Identity{ID: "user-3", Tier: tier.Free}

	if err := l.Record(ctx, id, KindCompress, 4); err != nil {
		t.Fatalf("Record: %v", err)
	}

	usage, err := l.Usage(ctx, id, KindCompress)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if len(usage) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(usage))
	}
	for _, u := range usage {
		if u.Used != 4 || u.Remaining != u.Limit-4 {
			t.Fatalf("unexpected usage %+v", u)
		}
		if !u.ResetsAt.Equal(now.Add(u.Window.Length())) {
			t.Fatalf("unexpected reset time for %s: %s", u.Window, u.ResetsAt)
		}
	}
}
