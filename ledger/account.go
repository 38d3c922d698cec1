package ledger

import "github.com/shopspring/decimal"

// Account is the single per-venue cash account for a run. Cash moves
// only through fill application: starting capital plus realized PnL
// minus commissions, never independently mutated.
type Account struct {
	Currency        string
	StartingCapital decimal.Decimal
	Balance         decimal.Decimal
	MarginUsed      decimal.Decimal
	Equity          decimal.Decimal
}

// FreeMargin is equity not committed to open positions.
func (a Account) FreeMargin() decimal.Decimal {
	return a.Equity.Sub(a.MarginUsed)
}
