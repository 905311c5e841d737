package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"webhook-trader/internal/activity"
	"webhook-trader/internal/events"
	"webhook-trader/internal/executor"
	"webhook-trader/internal/ledger"
	"webhook-trader/internal/monitor"
	"webhook-trader/internal/registry"
	"webhook-trader/internal/signal"
)

// ErrClosed is returned by Submit once Close has begun.
var ErrClosed = errors.New("pipeline: coordinator closed")

// PnLModel converts a fill into a realized performance delta (percent).
type PnLModel func(intent signal.Intent, fill executor.Fill) float64

// SlippagePnL is the default model: the signed percentage difference
// between the requested and the filled price. Buys lose on a higher fill,
// sells lose on a lower one.
func SlippagePnL(intent signal.Intent, fill executor.Fill) float64 {
	if intent.Price.IsZero() {
		return 0
	}
	diff := fill.Price.Sub(intent.Price).Div(intent.Price).Mul(decimal.NewFromInt(100))
	pct, _ := diff.Float64()
	if intent.Side == signal.SideBuy {
		return -pct
	}
	return pct
}

// Coordinator drives each inbound alert through parse, gate, dispatch and
// settlement. It is the single writer of the ledger and the activity log.
// Intents for the same strategy run on one lane goroutine in arrival
// order; different strategies execute concurrently.
type Coordinator struct {
	parser   *signal.Parser
	registry *registry.Registry
	exec     *executor.Executor
	ledger   *ledger.Ledger
	activity *activity.Log
	bus      *events.Bus
	metrics  *monitor.SystemMetrics
	pnl      PnLModel

	laneBuffer int

	mu     sync.RWMutex
	lanes  map[string]chan signal.Intent
	closed bool
	wg     sync.WaitGroup
	stop   chan struct{}
}

// New wires a coordinator and claims the executor's dispatch callback so
// the Dispatched notice lands in the activity log before settlement.
func New(parser *signal.Parser, reg *registry.Registry, exec *executor.Executor,
	led *ledger.Ledger, act *activity.Log, bus *events.Bus,
	metrics *monitor.SystemMetrics, pnl PnLModel, laneBuffer int) *Coordinator {

	if laneBuffer <= 0 {
		laneBuffer = 64
	}
	if pnl == nil {
		pnl = SlippagePnL
	}
	c := &Coordinator{
		parser:     parser,
		registry:   reg,
		exec:       exec,
		ledger:     led,
		activity:   act,
		bus:        bus,
		metrics:    metrics,
		pnl:        pnl,
		laneBuffer: laneBuffer,
		lanes:      make(map[string]chan signal.Intent),
		stop:       make(chan struct{}),
	}
	exec.OnDispatch = func(intent signal.Intent) {
		act.Info("order dispatched: %s %s qty=%s @ %s [%s]",
			intent.Side, intent.Pair, intent.Qty.String(), intent.Price.String(), intent.ID)
	}
	c.watchToggles()
	return c
}

// Submit validates one raw alert and hands it to its strategy lane. The
// returned error is a parse failure; acceptance means the intent will
// settle asynchronously and appear in the ledger.
func (c *Coordinator) Submit(raw signal.RawAlert) (signal.Intent, error) {
	intent, err := c.parser.Parse(raw)
	if err != nil {
		return signal.Intent{}, c.drop(raw.Strategy, err)
	}
	return intent, c.accept(intent)
}

// SubmitManual runs the manual test command through the same pipeline
// under the built-in manual strategy, which cannot be paused.
func (c *Coordinator) SubmitManual(action, pair string, price, qty signal.Number) (signal.Intent, error) {
	intent, err := c.parser.ParseManual(action, pair, price, qty)
	if err != nil {
		return signal.Intent{}, c.drop("manual", err)
	}
	return intent, c.accept(intent)
}

func (c *Coordinator) drop(ref string, err error) error {
	if c.metrics != nil {
		c.metrics.IncrementDropped()
	}
	if pe, ok := signal.AsParseError(err); ok {
		c.activity.Error("signal dropped (%s): %s", pe.Reason, pe.Detail)
	} else {
		c.activity.Error("signal dropped: %v", err)
	}
	c.bus.Publish(events.EventSignalDropped, ref)
	return err
}

func (c *Coordinator) accept(intent signal.Intent) error {
	strat, err := c.registry.Get(intent.StrategyID)
	if err != nil {
		return c.drop(intent.StrategyID, err)
	}

	// The read lock is held across the send: Close takes the write lock
	// before closing lanes, so an in-flight submit can never hit a closed
	// channel.
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	lane, ok := c.lanes[intent.StrategyID]
	if !ok {
		c.mu.RUnlock()
		if err := c.ensureLane(intent.StrategyID); err != nil {
			return err
		}
		c.mu.RLock()
		if c.closed {
			c.mu.RUnlock()
			return ErrClosed
		}
		lane = c.lanes[intent.StrategyID]
	}

	if c.metrics != nil {
		c.metrics.IncrementReceived()
	}
	c.activity.Info("signal received: %s %s qty=%s @ %s via %s",
		intent.Side, intent.Pair, intent.Qty.String(), intent.Price.String(), strat.Name)
	c.bus.Publish(events.EventSignalReceived, intent)

	lane <- intent
	c.mu.RUnlock()
	return nil
}

// ensureLane starts the strategy's serial worker on first use. Lane
// membership is by strategy id, so one strategy's intents never reorder
// while unrelated strategies proceed in parallel.
func (c *Coordinator) ensureLane(strategyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.lanes[strategyID]; !ok {
		lane := make(chan signal.Intent, c.laneBuffer)
		c.lanes[strategyID] = lane
		c.wg.Add(1)
		go c.drain(strategyID, lane)
	}
	return nil
}

func (c *Coordinator) drain(strategyID string, lane <-chan signal.Intent) {
	defer c.wg.Done()
	for intent := range lane {
		c.process(intent)
	}
	log.Printf("pipeline: lane for strategy %s drained", strategyID)
}

func (c *Coordinator) process(intent signal.Intent) {
	timer := monitor.NewTimer(c.pipelineHistogram())

	state, err := c.registry.RunState(intent.StrategyID)
	if err != nil {
		// Strategy removed between accept and process; treat as a gate
		// rejection so the event stays visible in the history.
		state = registry.StatePaused
	}
	if state != registry.StateActive {
		c.activity.Warn("strategy paused, signal skipped: %s %s [%s]",
			intent.Side, intent.Pair, intent.ID)
		if c.metrics != nil {
			c.metrics.IncrementRejected()
		}
		c.settle(intent, executor.Result{
			State:       ledger.StateRejected,
			Reason:      ledger.ReasonStrategyPaused,
			CompletedAt: time.Now(),
		})
		timer.Stop()
		return
	}

	execTimer := monitor.NewTimer(c.execHistogram())
	result := c.exec.Place(context.Background(), intent)
	execTimer.Stop()

	switch result.State {
	case ledger.StateFilled:
		if c.metrics != nil {
			c.metrics.IncrementFilled()
		}
		delta := c.pnl(intent, result.Fill)
		total, err := c.registry.ApplyPerformanceDelta(context.Background(), intent.StrategyID, delta)
		if err != nil {
			log.Printf("pipeline: performance delta for %s: %v", intent.StrategyID, err)
		}
		c.activity.Success("order filled: %s %s qty=%s @ %s (perf %+.2f%%, total %+.2f%%)",
			intent.Side, intent.Pair, result.Fill.Qty.String(), result.Fill.Price.String(), delta, total)
	case ledger.StateDeduplicated:
		if c.metrics != nil {
			c.metrics.IncrementDeduplicated()
		}
		c.activity.Info("duplicate delivery ignored: %s %s qty=%s @ %s",
			intent.Side, intent.Pair, intent.Qty.String(), intent.Price.String())
	default:
		if c.metrics != nil {
			c.metrics.IncrementRejected()
		}
		c.activity.Error("order rejected (%s): %s %s qty=%s @ %s",
			result.Reason, intent.Side, intent.Pair, intent.Qty.String(), intent.Price.String())
	}

	c.settle(intent, result)
	timer.Stop()
}

// settle appends the terminal outcome. Runs on the strategy's lane, so
// within a strategy outcomes append in gate-acceptance order.
func (c *Coordinator) settle(intent signal.Intent, result executor.Result) {
	price, _ := intent.Price.Float64()
	qty, _ := intent.Qty.Float64()
	o := ledger.Outcome{
		ID:          uuid.NewString(),
		IntentID:    intent.ID,
		StrategyID:  intent.StrategyID,
		Pair:        intent.Pair,
		Side:        string(intent.Side),
		Price:       price,
		Qty:         qty,
		State:       result.State,
		Reason:      result.Reason,
		CompletedAt: result.CompletedAt,
	}
	if result.State == ledger.StateFilled {
		o.FillPrice, _ = result.Fill.Price.Float64()
	}
	c.ledger.Append(context.Background(), o)
}

// watchToggles mirrors registry toggles into the activity log, keeping the
// coordinator the log's only writer.
func (c *Coordinator) watchToggles() {
	stream, unsub := c.bus.Subscribe(events.EventStrategyToggled, 16)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsub()
		for {
			select {
			case <-c.stop:
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				ev, ok := msg.(registry.ToggleEvent)
				if !ok {
					continue
				}
				if ev.State == registry.StateActive {
					c.activity.Success("strategy resumed: %s", ev.Name)
				} else {
					c.activity.Warn("strategy paused: %s", ev.Name)
				}
			}
		}
	}()
}

func (c *Coordinator) pipelineHistogram() *monitor.LatencyHistogram {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.PipelineLatency
}

func (c *Coordinator) execHistogram() *monitor.LatencyHistogram {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.ExecLatency
}

// Close stops accepting new intents, drains every lane and waits for all
// in-flight settlements.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, lane := range c.lanes {
		close(lane)
	}
	c.mu.Unlock()

	close(c.stop)
	c.wg.Wait()
}
