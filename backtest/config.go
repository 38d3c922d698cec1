package backtest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/backsim/data"
	"github.com/rustyeddy/backsim/market"
)

// Config is the per-run configuration: capital, currency, order
// management mode and fill-model parameters. The time window is given
// to Run directly; a zero window spans all registered data.
type Config struct {
	Venue           string
	StartingCapital decimal.Decimal
	AccountCurrency string
	OMSMode         market.OMSMode

	ProbFillAtLimit float64
	ProbFillAtStop  float64
	ProbSlippage    float64
	FillSeed        int64
}

// DefaultConfig mirrors a frictionless venue: certain fills on touch,
// no slippage, netting account.
func DefaultConfig() Config {
	return Config{
		Venue:           "SIM",
		StartingCapital: decimal.NewFromInt(1_000_000),
		AccountCurrency: "USD",
		OMSMode:         market.Netting,
		ProbFillAtLimit: 1,
		ProbFillAtStop:  1,
		ProbSlippage:    0,
	}
}

// Validate fails with data.ErrConfiguration on any invalid setting, so
// a run never starts on top of bad setup.
func (c Config) Validate() error {
	if c.Venue == "" {
		return fmt.Errorf("%w: venue name required", data.ErrConfiguration)
	}
	if c.StartingCapital.Sign() <= 0 {
		return fmt.Errorf("%w: starting capital must be positive, got %s",
			data.ErrConfiguration, c.StartingCapital)
	}
	if c.AccountCurrency == "" {
		return fmt.Errorf("%w: account currency required", data.ErrConfiguration)
	}
	for name, p := range map[string]float64{
		"prob_fill_at_limit": c.ProbFillAtLimit,
		"prob_fill_at_stop":  c.ProbFillAtStop,
		"prob_slippage":      c.ProbSlippage,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%w: %s must be in [0, 1], got %v", data.ErrConfiguration, name, p)
		}
	}
	return nil
}

// validateWindow checks the [start, stop) pair. start == stop is a
// valid empty run.
func validateWindow(start, stop time.Time) error {
	if start.IsZero() != stop.IsZero() {
		return fmt.Errorf("%w: start and stop must both be set or both be zero", data.ErrConfiguration)
	}
	if stop.Before(start) {
		return fmt.Errorf("%w: stop %s before start %s", data.ErrConfiguration,
			stop.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return nil
}
