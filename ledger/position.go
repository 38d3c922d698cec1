package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position aggregates net quantity and average entry price for one
// instrument under one strategy. Quantity is signed: positive long,
// negative short. AvgPrice is in the instrument's quote currency;
// RealizedPnL and Commissions are in the account currency.
type Position struct {
	ID           string
	StrategyID   string
	InstrumentID string
	Quantity     decimal.Decimal
	AvgPrice     decimal.Decimal
	RealizedPnL  decimal.Decimal
	Commissions  decimal.Decimal
	OpenTime     time.Time
	CloseTime    time.Time // zero while open
	FillCount    int
}

// Open reports whether the position carries any net quantity.
func (p *Position) Open() bool { return !p.Quantity.IsZero() }

// apply folds one fill into the position and returns the realized PnL
// it produced (zero on pure increases).
//
// Increases use the weighted-average-cost formula; decreases realize
// (price - avg) * closedQty against the existing average. A fill that
// flips the position realizes the full closing leg, then restarts the
// average price at the fill price for the surplus.
func (p *Position) apply(f FillEvent) decimal.Decimal {
	signed := f.SignedQty()
	realized := decimal.Zero

	switch {
	case p.Quantity.IsZero():
		p.AvgPrice = f.Price
		p.Quantity = signed
		if p.OpenTime.IsZero() {
			p.OpenTime = f.Time
		}

	case p.Quantity.Sign() == signed.Sign():
		// increase: new avg = (old notional + fill notional) / total qty
		oldAbs := p.Quantity.Abs()
		total := oldAbs.Add(f.Quantity)
		p.AvgPrice = p.AvgPrice.Mul(oldAbs).Add(f.Price.Mul(f.Quantity)).Div(total)
		p.Quantity = p.Quantity.Add(signed)

	default:
		closing := decimal.Min(p.Quantity.Abs(), f.Quantity)
		diff := f.Price.Sub(p.AvgPrice)
		if p.Quantity.Sign() < 0 {
			diff = diff.Neg()
		}
		realized = diff.Mul(closing).Mul(f.AccountRate())
		p.RealizedPnL = p.RealizedPnL.Add(realized)
		p.Quantity = p.Quantity.Add(signed)

		if p.Quantity.IsZero() {
			p.AvgPrice = decimal.Zero
			p.CloseTime = f.Time
		} else if p.Quantity.Sign() == signed.Sign() {
			// flipped through zero; remainder opens at the fill price
			p.AvgPrice = f.Price
			p.OpenTime = f.Time
			p.CloseTime = time.Time{}
		}
	}

	p.Commissions = p.Commissions.Add(f.Commission)
	p.FillCount++
	return realized
}

// Notional returns |quantity| * mark, in the instrument's quote currency.
func (p *Position) Notional(mark decimal.Decimal) decimal.Decimal {
	return p.Quantity.Abs().Mul(mark)
}

// UnrealizedPnL marks the open quantity against a price.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return mark.Sub(p.AvgPrice).Mul(p.Quantity)
}
