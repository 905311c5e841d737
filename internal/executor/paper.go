package executor

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"webhook-trader/internal/signal"
)

// PaperGateway simulates an exchange with cash accounting per asset.
// Fills settle at the requested price worsened by bounded random slippage;
// orders the balance cannot cover are rejected. Deterministic under a
// fixed seed.
type PaperGateway struct {
	mu          sync.Mutex
	balances    map[string]decimal.Decimal
	slippageBps decimal.Decimal
	feeRate     decimal.Decimal
	rng         *rand.Rand
	available   bool
}

// NewPaperGateway seeds asset balances (e.g. {"USDT": 10000}).
func NewPaperGateway(balances map[string]float64, slippageBps, feeRate float64, seed int64) *PaperGateway {
	b := make(map[string]decimal.Decimal, len(balances))
	for asset, amount := range balances {
		b[strings.ToUpper(asset)] = decimal.NewFromFloat(amount)
	}
	return &PaperGateway{
		balances:    b,
		slippageBps: decimal.NewFromFloat(slippageBps),
		feeRate:     decimal.NewFromFloat(feeRate),
		rng:         rand.New(rand.NewSource(seed)),
		available:   true,
	}
}

// SetAvailable toggles simulated backend connectivity.
func (g *PaperGateway) SetAvailable(up bool) {
	g.mu.Lock()
	g.available = up
	g.mu.Unlock()
}

// Balances returns a snapshot of current asset balances.
func (g *PaperGateway) Balances() map[string]decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(g.balances))
	for asset, amount := range g.balances {
		out[asset] = amount
	}
	return out
}

// AttemptOrder implements Gateway.
func (g *PaperGateway) AttemptOrder(ctx context.Context, pair string, side signal.Side, price, qty decimal.Decimal) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	base, quote, ok := splitPair(pair)
	if !ok {
		return Fill{}, fmt.Errorf("%w: malformed pair %q", ErrBackendUnavailable, pair)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.available {
		return Fill{}, ErrBackendUnavailable
	}

	fillPrice := g.slip(price, side)
	cost := fillPrice.Mul(qty)
	fee := cost.Mul(g.feeRate)

	switch side {
	case signal.SideBuy:
		need := cost.Add(fee)
		if g.balances[quote].LessThan(need) {
			return Fill{}, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBalance,
				need.StringFixed(2), quote, g.balances[quote].StringFixed(2))
		}
		g.balances[quote] = g.balances[quote].Sub(need)
		g.balances[base] = g.balances[base].Add(qty)
	case signal.SideSell:
		if g.balances[base].LessThan(qty) {
			return Fill{}, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBalance,
				qty.String(), base, g.balances[base].String())
		}
		g.balances[base] = g.balances[base].Sub(qty)
		g.balances[quote] = g.balances[quote].Add(cost.Sub(fee))
	default:
		return Fill{}, fmt.Errorf("%w: unsupported side %q", ErrBackendUnavailable, side)
	}

	return Fill{Price: fillPrice, Qty: qty, Fee: fee, At: time.Now()}, nil
}

// slip worsens the requested price by a random fraction of slippageBps.
func (g *PaperGateway) slip(price decimal.Decimal, side signal.Side) decimal.Decimal {
	if g.slippageBps.IsZero() {
		return price
	}
	frac := g.slippageBps.Div(decimal.NewFromInt(10000)).Mul(decimal.NewFromFloat(g.rng.Float64()))
	if side == signal.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(frac))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(frac))
}

func splitPair(pair string) (base, quote string, ok bool) {
	parts := strings.Split(strings.ToUpper(pair), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
