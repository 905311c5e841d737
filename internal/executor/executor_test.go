package executor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"webhook-trader/internal/events"
	"webhook-trader/internal/ledger"
	"webhook-trader/internal/signal"
	"webhook-trader/pkg/cache"
)

func testIntent() signal.Intent {
	return signal.Intent{
		ID:         "intent-1",
		StrategyID: "ema-crossover",
		Pair:       "BTC/USDT",
		Side:       signal.SideBuy,
		Price:      decimal.NewFromFloat(100),
		Qty:        decimal.NewFromFloat(1),
		ReceivedAt: time.Now(),
	}
}

func newFilledExecutor() *Executor {
	gw := NewPaperGateway(map[string]float64{"USDT": 10000, "BTC": 0}, 0, 0, 1)
	return New(gw, events.NewBus(), cache.NewDedupCache(), time.Minute)
}

func TestPlaceFills(t *testing.T) {
	e := newFilledExecutor()

	dispatched := false
	e.OnDispatch = func(signal.Intent) { dispatched = true }

	res := e.Place(context.Background(), testIntent())
	if res.State != ledger.StateFilled {
		t.Fatalf("expected FILLED, got %s (%s)", res.State, res.Reason)
	}
	if !dispatched {
		t.Error("expected OnDispatch before settlement")
	}
	if !res.Fill.Price.Equal(decimal.NewFromFloat(100)) {
		t.Errorf("expected fill at requested price with zero slippage, got %s", res.Fill.Price)
	}
}

func TestPlaceInsufficientBalance(t *testing.T) {
	gw := NewPaperGateway(map[string]float64{"USDT": 10}, 0, 0, 1)
	e := New(gw, nil, nil, 0)

	res := e.Place(context.Background(), testIntent())
	if res.State != ledger.StateRejected || res.Reason != ledger.ReasonInsufficientBalance {
		t.Errorf("expected INSUFFICIENT_BALANCE rejection, got %s/%s", res.State, res.Reason)
	}
}

func TestPlaceBackendUnavailable(t *testing.T) {
	gw := NewPaperGateway(map[string]float64{"USDT": 10000}, 0, 0, 1)
	gw.SetAvailable(false)
	e := New(gw, nil, nil, 0)

	res := e.Place(context.Background(), testIntent())
	if res.State != ledger.StateRejected || res.Reason != ledger.ReasonBackendUnavailable {
		t.Errorf("expected BACKEND_UNAVAILABLE rejection, got %s/%s", res.State, res.Reason)
	}
}

func TestPlaceDeduplicates(t *testing.T) {
	e := newFilledExecutor()
	ctx := context.Background()

	dispatches := 0
	e.OnDispatch = func(signal.Intent) { dispatches++ }

	first := e.Place(ctx, testIntent())
	if first.State != ledger.StateFilled {
		t.Fatalf("expected first FILLED, got %s", first.State)
	}

	// Same strategy/pair/side/price/qty with a fresh intent id: duplicate.
	dup := testIntent()
	dup.ID = "intent-2"
	second := e.Place(ctx, dup)
	if second.State != ledger.StateDeduplicated {
		t.Fatalf("expected DEDUPLICATED, got %s", second.State)
	}
	if dispatches != 1 {
		t.Errorf("expected exactly one dispatch, got %d", dispatches)
	}
}

func TestPlaceDedupWindowExpiry(t *testing.T) {
	gw := NewPaperGateway(map[string]float64{"USDT": 10000, "BTC": 0}, 0, 0, 1)
	e := New(gw, nil, cache.NewDedupCache(), 10*time.Millisecond)
	ctx := context.Background()

	if res := e.Place(ctx, testIntent()); res.State != ledger.StateFilled {
		t.Fatalf("expected FILLED, got %s", res.State)
	}
	time.Sleep(20 * time.Millisecond)
	if res := e.Place(ctx, testIntent()); res.State != ledger.StateFilled {
		t.Errorf("expected FILLED after window expiry, got %s (%s)", res.State, res.Reason)
	}
}

type pausedChecker struct{}

func (pausedChecker) IsActive(string) (bool, error) { return false, nil }

func TestPlaceDefensiveGate(t *testing.T) {
	e := newFilledExecutor()
	e.Gate = pausedChecker{}

	dispatched := false
	e.OnDispatch = func(signal.Intent) { dispatched = true }

	res := e.Place(context.Background(), testIntent())
	if res.State != ledger.StateRejected || res.Reason != ledger.ReasonStrategyPaused {
		t.Fatalf("expected STRATEGY_PAUSED rejection, got %s/%s", res.State, res.Reason)
	}
	if dispatched {
		t.Error("paused strategy must not dispatch")
	}
}

func TestPlacePublishesEvents(t *testing.T) {
	bus := events.NewBus()
	filled, unsubFilled := bus.Subscribe(events.EventOrderFilled, 1)
	defer unsubFilled()
	dispatchedCh, unsubDisp := bus.Subscribe(events.EventOrderDispatched, 1)
	defer unsubDisp()

	gw := NewPaperGateway(map[string]float64{"USDT": 10000, "BTC": 0}, 0, 0, 1)
	e := New(gw, bus, nil, 0)
	e.Place(context.Background(), testIntent())

	select {
	case <-dispatchedCh:
	case <-time.After(time.Second):
		t.Fatal("missing dispatched event")
	}
	select {
	case <-filled:
	case <-time.After(time.Second):
		t.Fatal("missing filled event")
	}
}
