package ledger

import (
	"context"
	"sync"
	"testing"

	"webhook-trader/pkg/db"
)

func newTestLedger(t *testing.T) (*Ledger, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	return New(database, 100), database
}

func TestAppendAssignsGapFreeSequence(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		out := l.Append(ctx, Outcome{ID: "o", StrategyID: "s", Pair: "BTC/USDT", Side: "BUY", State: StateFilled})
		if out.Seq != int64(i+1) {
			t.Errorf("expected seq %d, got %d", i+1, out.Seq)
		}
	}

	recent := l.Recent(10)
	if len(recent) != 5 {
		t.Fatalf("expected 5 outcomes, got %d", len(recent))
	}
	for i, o := range recent {
		want := int64(5 - i)
		if o.Seq != want {
			t.Errorf("recent[%d]: expected seq %d, got %d", i, want, o.Seq)
		}
	}
}

func TestAppendConcurrentStillGapFree(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(ctx, Outcome{State: StateFilled})
		}()
	}
	wg.Wait()

	if l.Seq() != n {
		t.Fatalf("expected last seq %d, got %d", n, l.Seq())
	}
	seen := make(map[int64]bool)
	for _, o := range l.Recent(n) {
		if seen[o.Seq] {
			t.Errorf("duplicate seq %d", o.Seq)
		}
		seen[o.Seq] = true
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Errorf("missing seq %d", i)
		}
	}
}

func TestLoadResumesSequence(t *testing.T) {
	l, database := newTestLedger(t)
	ctx := context.Background()

	l.Append(ctx, Outcome{ID: "a", State: StateFilled})
	l.Append(ctx, Outcome{ID: "b", State: StateRejected, Reason: ReasonStrategyPaused})

	fresh := New(database, 100)
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fresh.Seq() != 2 {
		t.Errorf("expected resumed seq 2, got %d", fresh.Seq())
	}

	out := fresh.Append(ctx, Outcome{ID: "c", State: StateFilled})
	if out.Seq != 3 {
		t.Errorf("expected seq 3 after restart, got %d", out.Seq)
	}

	recent := fresh.Recent(10)
	if len(recent) != 3 || recent[0].ID != "c" || recent[2].ID != "a" {
		t.Errorf("unexpected recent after reload: %+v", recent)
	}
}

func TestMemoryBounded(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	l := New(database, 3)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		l.Append(ctx, Outcome{State: StateFilled})
	}
	if l.Len() != 3 {
		t.Errorf("expected 3 retained, got %d", l.Len())
	}
	if l.Seq() != 10 {
		t.Errorf("expected seq 10, got %d", l.Seq())
	}
	if got := l.Recent(10)[0].Seq; got != 10 {
		t.Errorf("expected newest seq 10, got %d", got)
	}
}
