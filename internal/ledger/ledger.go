package ledger

import (
	"context"
	"log"
	"sync"
	"time"

	"webhook-trader/pkg/db"
)

// TerminalState is the final state of an executed intent.
type TerminalState string

const (
	StateFilled       TerminalState = "FILLED"
	StateRejected     TerminalState = "REJECTED"
	StateDeduplicated TerminalState = "DEDUPLICATED"
)

// RejectReason explains a Rejected outcome.
type RejectReason string

const (
	ReasonInsufficientBalance RejectReason = "INSUFFICIENT_BALANCE"
	ReasonBackendUnavailable  RejectReason = "BACKEND_UNAVAILABLE"
	ReasonStrategyPaused      RejectReason = "STRATEGY_PAUSED"
)

// Outcome is one settled ledger entry. Immutable once appended; Seq is the
// ledger's total order, assigned at append time.
type Outcome struct {
	Seq         int64         `json:"seq"`
	ID          string        `json:"id"`
	IntentID    string        `json:"intent_id"`
	StrategyID  string        `json:"strategy_id"`
	Pair        string        `json:"pair"`
	Side        string        `json:"side"`
	Price       float64       `json:"price"`
	Qty         float64       `json:"qty"`
	FillPrice   float64       `json:"fill_price,omitempty"`
	State       TerminalState `json:"state"`
	Reason      RejectReason  `json:"reason,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Ledger is the append-only, strictly ordered history of Outcomes. The
// pipeline coordinator is its single writer; reads return copies and never
// block appends for long.
type Ledger struct {
	mu       sync.RWMutex
	outcomes []Outcome
	seq      int64
	limit    int
	db       *db.Database
}

// New creates a ledger retaining at most limit outcomes in memory.
func New(database *db.Database, limit int) *Ledger {
	if limit <= 0 {
		limit = 1000
	}
	return &Ledger{
		outcomes: make([]Outcome, 0, limit),
		limit:    limit,
		db:       database,
	}
}

// Load seeds the sequence counter and recent history from the DB so that
// sequence ids keep increasing across restarts.
func (l *Ledger) Load(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	seq, err := l.db.MaxOutcomeSeq(ctx)
	if err != nil {
		return err
	}
	rows, err := l.db.RecentOutcomes(ctx, l.limit)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq = seq
	// rows are newest first; memory keeps append order.
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		l.outcomes = append(l.outcomes, Outcome{
			Seq:         r.Seq,
			ID:          r.ID,
			IntentID:    r.IntentID,
			StrategyID:  r.StrategyID,
			Pair:        r.Pair,
			Side:        r.Side,
			Price:       r.Price,
			Qty:         r.Qty,
			FillPrice:   r.FillPrice,
			State:       TerminalState(r.State),
			Reason:      RejectReason(r.Reason),
			CompletedAt: r.CompletedAt,
		})
	}
	return nil
}

// Append assigns the next sequence id under the append lock and stores the
// outcome, so ids are strictly increasing and gap-free in append order even
// when completion timestamps interleave.
func (l *Ledger) Append(ctx context.Context, o Outcome) Outcome {
	l.mu.Lock()
	l.seq++
	o.Seq = l.seq
	if o.CompletedAt.IsZero() {
		o.CompletedAt = time.Now()
	}
	l.outcomes = append(l.outcomes, o)
	if len(l.outcomes) > l.limit {
		l.outcomes = l.outcomes[len(l.outcomes)-l.limit:]
	}
	l.mu.Unlock()

	if l.db != nil {
		if err := l.db.InsertOutcome(ctx, db.Outcome{
			Seq:         o.Seq,
			ID:          o.ID,
			IntentID:    o.IntentID,
			StrategyID:  o.StrategyID,
			Pair:        o.Pair,
			Side:        o.Side,
			Price:       o.Price,
			Qty:         o.Qty,
			FillPrice:   o.FillPrice,
			State:       string(o.State),
			Reason:      string(o.Reason),
			CompletedAt: o.CompletedAt,
		}); err != nil {
			log.Printf("ledger: persist outcome %d: %v", o.Seq, err)
		}
	}
	return o
}

// Recent returns up to limit outcomes, newest first.
func (l *Ledger) Recent(limit int) []Outcome {
	if limit <= 0 {
		limit = 50
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.outcomes)
	if limit > n {
		limit = n
	}
	out := make([]Outcome, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.outcomes[i])
	}
	return out
}

// Len returns the number of outcomes retained in memory.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.outcomes)
}

// Seq returns the last assigned sequence id.
func (l *Ledger) Seq() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}
