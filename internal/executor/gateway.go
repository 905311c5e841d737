package executor

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"webhook-trader/internal/signal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBackendUnavailable  = errors.New("execution backend unavailable")
)

// Fill is a successful execution at the backend.
type Fill struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
	Fee   decimal.Decimal
	At    time.Time
}

// Gateway is the pluggable execution backend. A real venue adapter and the
// paper gateway satisfy the same contract: fill the order at or near the
// requested price, or fail with one of the sentinel errors above.
type Gateway interface {
	AttemptOrder(ctx context.Context, pair string, side signal.Side, price, qty decimal.Decimal) (Fill, error)
}
