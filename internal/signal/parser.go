package signal

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"webhook-trader/internal/registry"
)

// Side is the direction of a trade intent.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseReason classifies why a payload was dropped before dispatch.
type ParseReason string

const (
	ReasonInvalidAction   ParseReason = "INVALID_ACTION"
	ReasonInvalidNumeric  ParseReason = "INVALID_NUMERIC"
	ReasonUnknownPair     ParseReason = "UNKNOWN_PAIR"
	ReasonUnknownStrategy ParseReason = "UNKNOWN_STRATEGY"
)

// ParseError is a terminal validation failure. It never reaches the
// execution backend and produces no ledger entry.
type ParseError struct {
	Reason ParseReason
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// AsParseError unwraps err into a *ParseError when possible.
func AsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Number accepts both JSON numbers and numeric strings, as upstream alert
// templates emit either depending on how the placeholder is quoted.
type Number string

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	*n = Number(data)
	return nil
}

func (n Number) String() string { return string(n) }

// RawAlert is the deserialized webhook payload, field names fixed by the
// upstream alert template.
type RawAlert struct {
	Strategy  string `json:"strategy"`
	Action    string `json:"action"`
	Ticker    string `json:"ticker"`
	Price     Number `json:"price"`
	Qty       Number `json:"qty"`
	Timestamp string `json:"timestamp"` // upstream clock, display only
}

// Intent is the validated, strategy-resolved representation of one alert.
// Immutable once constructed.
type Intent struct {
	ID         string
	StrategyID string
	Pair       string
	Side       Side
	Price      decimal.Decimal
	Qty        decimal.Decimal
	ReceivedAt time.Time
}

// StrategyResolver resolves an alert's strategy reference.
type StrategyResolver interface {
	Resolve(ref, pair string) (registry.Strategy, error)
}

// Parser validates raw alert payloads into Intents.
type Parser struct {
	resolver StrategyResolver
}

func NewParser(resolver StrategyResolver) *Parser {
	return &Parser{resolver: resolver}
}

// Parse validates raw in order: action, numerics, ticker, strategy. Each
// rule failure yields a distinct ParseError reason. The Intent is stamped
// with the arrival time, never the alert's own timestamp.
func (p *Parser) Parse(raw RawAlert) (Intent, error) {
	side, ok := parseSide(raw.Action)
	if !ok {
		return Intent{}, &ParseError{ReasonInvalidAction, fmt.Sprintf("action %q must be buy or sell", raw.Action)}
	}

	price, qty, err := parseNumerics(raw.Price, raw.Qty)
	if err != nil {
		return Intent{}, err
	}

	pair, ok := NormalizeTicker(raw.Ticker)
	if !ok {
		return Intent{}, &ParseError{ReasonUnknownPair, fmt.Sprintf("ticker %q does not resolve to a BASE/QUOTE pair", raw.Ticker)}
	}

	strat, err := p.resolver.Resolve(raw.Strategy, pair)
	if err != nil {
		return Intent{}, &ParseError{ReasonUnknownStrategy, fmt.Sprintf("strategy %q not registered for %s", raw.Strategy, pair)}
	}

	return Intent{
		ID:         uuid.NewString(),
		StrategyID: strat.ID,
		Pair:       pair,
		Side:       side,
		Price:      price,
		Qty:        qty,
		ReceivedAt: time.Now(),
	}, nil
}

// ParseManual builds an Intent for the manual test command. Strategy
// resolution is bypassed: the synthetic manual strategy is always Active.
func (p *Parser) ParseManual(action, pair string, price, qty Number) (Intent, error) {
	side, ok := parseSide(action)
	if !ok {
		return Intent{}, &ParseError{ReasonInvalidAction, fmt.Sprintf("action %q must be buy or sell", action)}
	}

	priceDec, qtyDec, err := parseNumerics(price, qty)
	if err != nil {
		return Intent{}, err
	}

	normalized, ok := NormalizeTicker(pair)
	if !ok {
		return Intent{}, &ParseError{ReasonUnknownPair, fmt.Sprintf("pair %q does not resolve to a BASE/QUOTE pair", pair)}
	}

	return Intent{
		ID:         uuid.NewString(),
		StrategyID: registry.ManualStrategyID,
		Pair:       normalized,
		Side:       side,
		Price:      priceDec,
		Qty:        qtyDec,
		ReceivedAt: time.Now(),
	}, nil
}

func parseSide(action string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "buy":
		return SideBuy, true
	case "sell":
		return SideSell, true
	default:
		return "", false
	}
}

func parseNumerics(price, qty Number) (decimal.Decimal, decimal.Decimal, error) {
	priceDec, err := decimal.NewFromString(price.String())
	if err != nil || !priceDec.IsPositive() {
		return decimal.Decimal{}, decimal.Decimal{},
			&ParseError{ReasonInvalidNumeric, fmt.Sprintf("price %q must be a positive decimal", price)}
	}
	qtyDec, err := decimal.NewFromString(qty.String())
	if err != nil || !qtyDec.IsPositive() {
		return decimal.Decimal{}, decimal.Decimal{},
			&ParseError{ReasonInvalidNumeric, fmt.Sprintf("qty %q must be a positive decimal", qty)}
	}
	return priceDec, qtyDec, nil
}

// knownQuotes are the quote assets recognized when a ticker arrives without
// a separator, longest variants first so USDT wins over USD.
var knownQuotes = []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH"}

// NormalizeTicker converts upstream ticker formats to BASE/QUOTE:
// "BTCUSDT", "BINANCE:BTCUSDT" and "ETHUSDT.P" all normalize; a ticker
// that cannot be split into a known pair reports ok=false.
func NormalizeTicker(raw string) (string, bool) {
	t := strings.ToUpper(strings.TrimSpace(raw))

	// Strip exchange prefix.
	if i := strings.LastIndex(t, ":"); i >= 0 {
		t = t[i+1:]
	}
	// Strip perpetual suffix.
	t = strings.TrimSuffix(t, ".P")

	if strings.Contains(t, "/") {
		parts := strings.Split(t, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", false
		}
		return t, true
	}

	for _, quote := range knownQuotes {
		if strings.HasSuffix(t, quote) && len(t) > len(quote) {
			return t[:len(t)-len(quote)] + "/" + quote, true
		}
	}
	return "", false
}
