package strategies

import (
	"github.com/rustyeddy/backsim/market"
	"github.com/rustyeddy/backsim/sim"
)

// Noop subscribes to nothing and trades nothing. Baseline for wiring
// tests: a run with only Noop must end with the starting capital.
type Noop struct{}

func init() {
	Register("noop", func(map[string]string) (Strategy, error) {
		return Noop{}, nil
	})
}

func (Noop) Name() string                                        { return "noop" }
func (Noop) Subscriptions() []market.BarType                     { return nil }
func (Noop) OnStart(*Context) error                              { return nil }
func (Noop) OnBar(*Context, market.BarType, market.Bar) error    { return nil }
func (Noop) OnOrderEvent(*Context, sim.OrderEvent) error         { return nil }
func (Noop) OnStop(*Context) error                               { return nil }
