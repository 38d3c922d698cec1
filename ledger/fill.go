package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/backsim/market"
)

// FillEvent is the immutable record of one completed (possibly partial)
// match. The ID is the idempotency key: the ledger applies each fill ID
// at most once.
type FillEvent struct {
	ID           string
	OrderID      string
	PositionID   string
	StrategyID   string
	InstrumentID string
	Side         market.Side
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Commission   decimal.Decimal // account currency
	QuoteRate    decimal.Decimal // quote-to-account conversion at fill time; zero means 1
	Time         time.Time
}

// AccountRate returns the quote-to-account rate, defaulting to 1.
func (f FillEvent) AccountRate() decimal.Decimal {
	if f.QuoteRate.IsZero() {
		return decimal.NewFromInt(1)
	}
	return f.QuoteRate
}

// SignedQty returns quantity with the side sign applied.
func (f FillEvent) SignedQty() decimal.Decimal {
	if f.Side == market.Sell {
		return f.Quantity.Neg()
	}
	return f.Quantity
}
