package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/backsim/ledger"
)

// AccountReport is the end-of-run account snapshot.
type AccountReport struct {
	RunID           string
	Venue           string
	Currency        string
	Start           time.Time
	Stop            time.Time
	StartingCapital decimal.Decimal
	FinalBalance    decimal.Decimal
	FinalEquity     decimal.Decimal
	MarginUsed      decimal.Decimal
	FreeMargin      decimal.Decimal
	PnL             decimal.Decimal
}

// Result bundles the three immutable end-of-run snapshots: account,
// fills and positions, plus the order book for diagnosis. A failed run
// still carries whatever state completed before the failure.
type Result struct {
	RunID     string
	Account   AccountReport
	Fills     []ledger.FillEvent
	Positions []ledger.Position
	Orders    []ledger.Order
	Events    int
	Aborted   bool
}

func buildResult(runID string, cfg Config, start, stop time.Time, snap ledger.Snapshot, events int, aborted bool) Result {
	return Result{
		RunID: runID,
		Account: AccountReport{
			RunID:           runID,
			Venue:           cfg.Venue,
			Currency:        snap.Account.Currency,
			Start:           start,
			Stop:            stop,
			StartingCapital: snap.Account.StartingCapital,
			FinalBalance:    snap.Account.Balance,
			FinalEquity:     snap.Account.Equity,
			MarginUsed:      snap.Account.MarginUsed,
			FreeMargin:      snap.Account.FreeMargin(),
			PnL:             snap.Account.Balance.Sub(snap.Account.StartingCapital),
		},
		Fills:     snap.Fills,
		Positions: snap.Positions,
		Orders:    snap.Orders,
		Events:    events,
		Aborted:   aborted,
	}
}
