package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"webhook-trader/internal/events"
	"webhook-trader/pkg/db"
)

// RunState is the binary run state of a strategy.
type RunState string

const (
	StateActive RunState = "ACTIVE"
	StatePaused RunState = "PAUSED"
)

// ManualStrategyID is the synthetic always-active strategy backing the
// manual test command. It never appears in List and cannot be toggled.
const ManualStrategyID = "manual"

var (
	ErrNotFound     = errors.New("strategy not found")
	ErrManualLocked = errors.New("manual strategy cannot be toggled")
)

// Strategy is a registered trading strategy and its current state.
type Strategy struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Pair           string    `json:"pair"`
	Venue          string    `json:"venue"`
	State          RunState  `json:"state"`
	PerformancePct float64   `json:"performance_pct"`
	CreatedAt      time.Time `json:"created_at"`
}

// ToggleEvent is published on the bus whenever a run state flips.
type ToggleEvent struct {
	StrategyID string   `json:"strategy_id"`
	Name       string   `json:"name"`
	State      RunState `json:"state"`
}

// entry guards one strategy record. Run-state reads used as the dispatch
// gate take this lock, so a completed Toggle is visible to the very next
// gate check.
type entry struct {
	mu sync.Mutex
	s  Strategy
}

// Registry owns all strategy records and is the single writer of run state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	db      *db.Database
	bus     *events.Bus
}

func New(database *db.Database, bus *events.Bus) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		db:      database,
		bus:     bus,
	}
}

// Load seeds in-memory state from the DB and registers the manual strategy.
func (r *Registry) Load(ctx context.Context) error {
	if r.db != nil {
		rows, err := r.db.ListStrategies(ctx)
		if err != nil {
			return fmt.Errorf("load strategies: %w", err)
		}
		r.mu.Lock()
		for _, row := range rows {
			state := RunState(row.State)
			if state != StatePaused {
				state = StateActive
			}
			r.entries[row.ID] = &entry{s: Strategy{
				ID:             row.ID,
				Name:           row.Name,
				Pair:           row.Pair,
				Venue:          row.Venue,
				State:          state,
				PerformancePct: row.PerformancePct,
				CreatedAt:      row.CreatedAt,
			}}
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	if _, ok := r.entries[ManualStrategyID]; !ok {
		r.entries[ManualStrategyID] = &entry{s: Strategy{
			ID:        ManualStrategyID,
			Name:      "Manual",
			Pair:      "*",
			Venue:     "paper",
			State:     StateActive,
			CreatedAt: time.Now(),
		}}
	}
	r.mu.Unlock()
	return nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Get returns a snapshot of one strategy.
func (r *Registry) Get(id string) (Strategy, error) {
	e, ok := r.lookup(id)
	if !ok {
		return Strategy{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s, nil
}

// Resolve looks a strategy up by id or, failing that, by its display name
// as carried in alert payloads (case-insensitive). When pair is non-empty
// the strategy's instrument pair must match as well.
func (r *Registry) Resolve(ref, pair string) (Strategy, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Strategy{}, ErrNotFound
	}

	if e, ok := r.lookup(ref); ok {
		e.mu.Lock()
		s := e.s
		e.mu.Unlock()
		if pair == "" || s.Pair == pair || s.Pair == "*" {
			return s, nil
		}
		return Strategy{}, ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		e.mu.Lock()
		s := e.s
		e.mu.Unlock()
		if strings.EqualFold(s.Name, ref) && (pair == "" || s.Pair == pair || s.Pair == "*") {
			return s, nil
		}
	}
	return Strategy{}, ErrNotFound
}

// List returns all registered strategies except the synthetic manual one,
// ordered by creation time.
func (r *Registry) List() []Strategy {
	r.mu.RLock()
	out := make([]Strategy, 0, len(r.entries))
	for id, e := range r.entries {
		if id == ManualStrategyID {
			continue
		}
		e.mu.Lock()
		out = append(out, e.s)
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Toggle flips Active<->Paused and returns the new state. Double toggle is
// its own inverse. The state change is persisted and announced on the bus.
func (r *Registry) Toggle(ctx context.Context, id string) (RunState, error) {
	if id == ManualStrategyID {
		return StateActive, ErrManualLocked
	}
	e, ok := r.lookup(id)
	if !ok {
		return "", ErrNotFound
	}

	e.mu.Lock()
	if e.s.State == StateActive {
		e.s.State = StatePaused
	} else {
		e.s.State = StateActive
	}
	newState := e.s.State
	name := e.s.Name

	// Persist and announce while still holding the entry lock, so
	// back-to-back toggles reach the database (and the bus) in the
	// order they took effect in memory.
	if r.db != nil {
		if err := r.db.UpdateStrategyState(ctx, id, string(newState)); err != nil {
			log.Printf("registry: persist state for %s: %v", id, err)
		}
	}
	if r.bus != nil {
		r.bus.Publish(events.EventStrategyToggled, ToggleEvent{StrategyID: id, Name: name, State: newState})
	}
	e.mu.Unlock()

	return newState, nil
}

// RunState reads the current run state under the strategy's own lock.
// Callers use this as the dispatch gate: a toggle that completed before
// this call is guaranteed visible.
func (r *Registry) RunState(id string) (RunState, error) {
	e, ok := r.lookup(id)
	if !ok {
		return "", ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.State, nil
}

// IsActive reports whether the strategy is currently Active.
func (r *Registry) IsActive(id string) (bool, error) {
	state, err := r.RunState(id)
	if err != nil {
		return false, err
	}
	return state == StateActive, nil
}

// ApplyPerformanceDelta accumulates realized performance for one strategy
// and returns the new total. Serialized per strategy by the entry lock.
func (r *Registry) ApplyPerformanceDelta(ctx context.Context, id string, deltaPct float64) (float64, error) {
	e, ok := r.lookup(id)
	if !ok {
		return 0, ErrNotFound
	}

	e.mu.Lock()
	e.s.PerformancePct += deltaPct
	total := e.s.PerformancePct
	e.mu.Unlock()

	if r.db != nil && id != ManualStrategyID {
		if err := r.db.UpdateStrategyPerformance(ctx, id, total); err != nil {
			log.Printf("registry: persist performance for %s: %v", id, err)
		}
	}
	return total, nil
}
