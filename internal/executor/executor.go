package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"webhook-trader/internal/events"
	"webhook-trader/internal/ledger"
	"webhook-trader/internal/signal"
	"webhook-trader/pkg/cache"
)

// StateChecker re-checks strategy run state just before hitting the
// backend. The pipeline gate makes this unreachable in-process; it exists
// so a bypassed gate surfaces as a Rejected outcome instead of an order.
type StateChecker interface {
	IsActive(strategyID string) (bool, error)
}

// Result is the terminal outcome of placing one intent.
type Result struct {
	State       ledger.TerminalState
	Reason      ledger.RejectReason
	Fill        Fill
	CompletedAt time.Time
}

// Executor places validated intents against the execution backend.
// Duplicate deliveries inside the dedup window are short-circuited to a
// Deduplicated result without touching the backend.
type Executor struct {
	Gateway Gateway
	Bus     *events.Bus
	Dedup   *cache.DedupCache
	Window  time.Duration
	Gate    StateChecker

	// OnDispatch fires after dedup and the defensive gate pass, before the
	// backend call. The coordinator uses it to record the Dispatched notice.
	OnDispatch func(signal.Intent)
}

func New(gw Gateway, bus *events.Bus, dedup *cache.DedupCache, window time.Duration) *Executor {
	return &Executor{
		Gateway: gw,
		Bus:     bus,
		Dedup:   dedup,
		Window:  window,
	}
}

// Place executes one intent. It blocks until the backend settles; callers
// needing per-strategy ordering serialize their calls.
func (e *Executor) Place(ctx context.Context, intent signal.Intent) Result {
	if e.Dedup != nil && e.Window > 0 {
		if e.Dedup.Observe(dedupKey(intent), e.Window) {
			log.Printf("executor: duplicate delivery for intent %s, short-circuited", intent.ID)
			e.publish(events.EventOrderDeduplicated, intent)
			return Result{State: ledger.StateDeduplicated, CompletedAt: time.Now()}
		}
	}

	if e.Gate != nil {
		if active, err := e.Gate.IsActive(intent.StrategyID); err == nil && !active {
			log.Printf("executor: strategy %s paused at dispatch, rejecting intent %s", intent.StrategyID, intent.ID)
			e.publish(events.EventOrderRejected, intent)
			return Result{State: ledger.StateRejected, Reason: ledger.ReasonStrategyPaused, CompletedAt: time.Now()}
		}
	}

	if e.OnDispatch != nil {
		e.OnDispatch(intent)
	}
	e.publish(events.EventOrderDispatched, intent)

	if e.Gateway == nil {
		log.Printf("executor: no gateway configured, rejecting intent %s", intent.ID)
		e.publish(events.EventOrderRejected, intent)
		return Result{State: ledger.StateRejected, Reason: ledger.ReasonBackendUnavailable, CompletedAt: time.Now()}
	}

	fill, err := e.Gateway.AttemptOrder(ctx, intent.Pair, intent.Side, intent.Price, intent.Qty)
	if err != nil {
		reason := classify(err)
		log.Printf("executor: intent %s rejected (%s): %v", intent.ID, reason, err)
		e.publish(events.EventOrderRejected, intent)
		return Result{State: ledger.StateRejected, Reason: reason, CompletedAt: time.Now()}
	}

	log.Printf("executor: intent %s filled %s %s qty=%s @ %s", intent.ID, intent.Side, intent.Pair,
		fill.Qty.String(), fill.Price.String())
	e.publish(events.EventOrderFilled, intent)
	return Result{State: ledger.StateFilled, Fill: fill, CompletedAt: time.Now()}
}

func (e *Executor) publish(ev events.Event, payload any) {
	if e.Bus != nil {
		e.Bus.Publish(ev, payload)
	}
}

func classify(err error) ledger.RejectReason {
	if errors.Is(err, ErrInsufficientBalance) {
		return ledger.ReasonInsufficientBalance
	}
	return ledger.ReasonBackendUnavailable
}

// dedupKey identifies an intent by what the upstream would resend on a
// duplicate delivery; the intent id itself is freshly generated per request
// and deliberately excluded.
func dedupKey(intent signal.Intent) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", intent.StrategyID, intent.Pair, intent.Side,
		intent.Price.String(), intent.Qty.String())
}
