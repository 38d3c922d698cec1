// Package strategies defines the capability contract a trading strategy
// must satisfy to run inside the backtest engine, plus a registry of
// named implementations.
package strategies

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/backsim/ledger"
	"github.com/rustyeddy/backsim/market"
	"github.com/rustyeddy/backsim/sim"
)

// Clock exposes the simulated time to strategies, read-only.
type Clock interface {
	Now() time.Time
}

// Strategy is the fixed capability interface the engine dispatches to.
// OnStart fires before any bar, OnStop exactly once after the last
// event (including aborted runs). OnBar receives only bars matching one
// of the strategy's subscriptions. Implementations must not retain
// references to engine-owned mutable state beyond the current callback.
type Strategy interface {
	Name() string
	Subscriptions() []market.BarType
	OnStart(ctx *Context) error
	OnBar(ctx *Context, bt market.BarType, bar market.Bar) error
	OnOrderEvent(ctx *Context, ev sim.OrderEvent) error
	OnStop(ctx *Context) error
}

// Context is a strategy's handle into the run: the simulated clock,
// order commands, and read-only execution state. One context per
// strategy per run; it is only valid inside callbacks.
type Context struct {
	StrategyID string
	Clock      Clock
	Venue      *sim.Venue
	Ledger     *ledger.Ledger
	Log        *zap.Logger
}

// Submit issues an order command under this strategy's identity.
func (c *Context) Submit(cmd sim.OrderCommand) (string, error) {
	cmd.StrategyID = c.StrategyID
	return c.Venue.Submit(cmd)
}

// Modify amends a working conditional order's quantity and/or price.
func (c *Context) Modify(orderID string, quantity, price decimal.Decimal) error {
	return c.Venue.Modify(orderID, quantity, price)
}

// Cancel withdraws a working conditional order.
func (c *Context) Cancel(orderID string) error {
	return c.Venue.Cancel(orderID, "")
}

// Quote returns the venue's last seen bid/ask for an instrument.
func (c *Context) Quote(instrumentID string) (bid, ask decimal.Decimal, ok bool) {
	return c.Venue.Quote(instrumentID)
}

// NetPosition sums this strategy's open quantity in an instrument.
func (c *Context) NetPosition(instrumentID string) decimal.Decimal {
	net := decimal.Zero
	for _, p := range c.Ledger.PositionsByInstrument(instrumentID) {
		if p.StrategyID == c.StrategyID {
			net = net.Add(p.Quantity)
		}
	}
	return net
}

// Factory builds a strategy from string parameters out of a config file.
type Factory func(params map[string]string) (Strategy, error)

var registry = make(map[string]Factory)

// Register adds a named strategy factory. Typically called from init.
func Register(name string, f Factory) {
	registry[name] = f
}

// New builds a registered strategy by name.
func New(name string, params map[string]string) (Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (registered: %v)", name, Names())
	}
	return f(params)
}

// Names lists registered strategy names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
