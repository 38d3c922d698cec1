package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Instrument describes a tradeable symbol at a venue. Instruments are
// immutable once registered; orders and positions reference them by ID.
type Instrument struct {
	Symbol         string
	Venue          string
	BaseCurrency   string
	QuoteCurrency  string
	PricePrecision int32
	SizePrecision  int32
	PriceIncrement decimal.Decimal
	MinTradeSize   decimal.Decimal
	MarginRate     decimal.Decimal
	CommissionRate decimal.Decimal
}

// ID returns the canonical "SYMBOL.VENUE" identifier.
func (i Instrument) ID() string {
	return i.Symbol + "." + i.Venue
}

func (i Instrument) String() string {
	return i.ID()
}

// Validate checks the fixed parameters an instrument must carry before
// any data or orders can reference it.
func (i Instrument) Validate() error {
	if i.Symbol == "" || i.Venue == "" {
		return fmt.Errorf("instrument requires symbol and venue, got %q/%q", i.Symbol, i.Venue)
	}
	if i.QuoteCurrency == "" {
		return fmt.Errorf("instrument %s requires a quote currency", i.ID())
	}
	if i.PriceIncrement.Sign() <= 0 {
		return fmt.Errorf("instrument %s: price increment must be positive", i.ID())
	}
	if i.MarginRate.Sign() < 0 {
		return fmt.Errorf("instrument %s: margin rate must not be negative", i.ID())
	}
	return nil
}

// FXInstrument builds a spot FX instrument with conventional defaults:
// 5 decimal pricing (3 for JPY quotes), 2% margin and no commission.
// The symbol must be a currency pair, "EURUSD" or "EUR/USD"; anything
// else yields an instrument that fails Validate, never a panic.
func FXInstrument(symbol, venue string) Instrument {
	var base, quote string
	switch {
	case len(symbol) == 6:
		base, quote = symbol[:3], symbol[3:]
	case len(symbol) == 7 && symbol[3] == '/':
		base, quote = symbol[:3], symbol[4:]
	}

	display := symbol
	if base != "" {
		display = base + "/" + quote
	}

	precision := int32(5)
	if quote == "JPY" {
		precision = 3
	}

	return Instrument{
		Symbol:         display,
		Venue:          venue,
		BaseCurrency:   base,
		QuoteCurrency:  quote,
		PricePrecision: precision,
		SizePrecision:  0,
		PriceIncrement: decimal.New(1, -precision),
		MinTradeSize:   decimal.NewFromInt(1),
		MarginRate:     decimal.NewFromFloat(0.02),
		CommissionRate: decimal.Zero,
	}
}
