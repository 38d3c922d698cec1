package strategies

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/backsim/indicators"
	"github.com/rustyeddy/backsim/market"
	"github.com/rustyeddy/backsim/sim"
)

// EMACross trades a single instrument on a fast/slow EMA crossover:
// long on a cross up, short on a cross down, reversing the open
// position on an opposite cross. Entries are market orders.
type EMACross struct {
	cfg EMACrossConfig

	fast *indicators.EMA
	slow *indicators.EMA

	lastDiff     float64
	haveLastDiff bool
}

type EMACrossConfig struct {
	InstrumentID string
	BarSpec      market.BarSpec
	FastPeriod   int
	SlowPeriod   int
	Units        decimal.Decimal
}

func init() {
	Register("ema-cross", func(params map[string]string) (Strategy, error) {
		cfg, err := emaCrossConfigFromParams(params)
		if err != nil {
			return nil, err
		}
		return NewEMACross(cfg)
	})
}

func NewEMACross(cfg EMACrossConfig) (*EMACross, error) {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= 0 || cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("ema-cross: need 0 < fast < slow, got %d/%d", cfg.FastPeriod, cfg.SlowPeriod)
	}
	if cfg.InstrumentID == "" {
		return nil, fmt.Errorf("ema-cross: instrument required")
	}
	if cfg.Units.Sign() <= 0 {
		return nil, fmt.Errorf("ema-cross: units must be positive")
	}
	return &EMACross{
		cfg:  cfg,
		fast: indicators.NewEMA(cfg.FastPeriod),
		slow: indicators.NewEMA(cfg.SlowPeriod),
	}, nil
}

func emaCrossConfigFromParams(params map[string]string) (EMACrossConfig, error) {
	cfg := EMACrossConfig{
		FastPeriod: 10,
		SlowPeriod: 20,
		Units:      decimal.NewFromInt(100_000),
	}
	var err error
	if v := params["instrument"]; v != "" {
		cfg.InstrumentID = v
	}
	if v := params["bar_spec"]; v != "" {
		if cfg.BarSpec, err = market.ParseBarSpec(v); err != nil {
			return cfg, err
		}
	}
	if v := params["fast"]; v != "" {
		if cfg.FastPeriod, err = strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("ema-cross: bad fast period %q", v)
		}
	}
	if v := params["slow"]; v != "" {
		if cfg.SlowPeriod, err = strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("ema-cross: bad slow period %q", v)
		}
	}
	if v := params["units"]; v != "" {
		if cfg.Units, err = decimal.NewFromString(v); err != nil {
			return cfg, fmt.Errorf("ema-cross: bad units %q", v)
		}
	}
	return cfg, nil
}

func (s *EMACross) Name() string { return "ema-cross" }

func (s *EMACross) Subscriptions() []market.BarType {
	return []market.BarType{{InstrumentID: s.cfg.InstrumentID, Spec: s.cfg.BarSpec}}
}

func (s *EMACross) OnStart(ctx *Context) error {
	s.fast.Reset()
	s.slow.Reset()
	s.haveLastDiff = false
	ctx.Log.Info("ema-cross starting",
		zap.String("instrument", s.cfg.InstrumentID),
		zap.Int("fast", s.cfg.FastPeriod),
		zap.Int("slow", s.cfg.SlowPeriod))
	return nil
}

func (s *EMACross) OnBar(ctx *Context, bt market.BarType, bar market.Bar) error {
	s.fast.Update(bar.Close)
	s.slow.Update(bar.Close)
	if !s.fast.Ready() || !s.slow.Ready() {
		return nil
	}

	diff := s.fast.Value() - s.slow.Value()
	if !s.haveLastDiff {
		s.lastDiff = diff
		s.haveLastDiff = true
		return nil
	}

	crossedUp := s.lastDiff <= 0 && diff > 0
	crossedDown := s.lastDiff >= 0 && diff < 0
	s.lastDiff = diff
	if !crossedUp && !crossedDown {
		return nil
	}

	side := market.Buy
	if crossedDown {
		side = market.Sell
	}

	net := ctx.NetPosition(s.cfg.InstrumentID)
	if (side == market.Buy && net.Sign() > 0) || (side == market.Sell && net.Sign() < 0) {
		return nil // already positioned this way
	}

	// reversal closes the opposite exposure in the same order
	qty := s.cfg.Units.Add(net.Abs())

	_, err := ctx.Submit(sim.OrderCommand{
		InstrumentID: s.cfg.InstrumentID,
		Side:         side,
		Type:         market.MarketOrder,
		Quantity:     qty,
	})
	return err
}

func (s *EMACross) OnOrderEvent(ctx *Context, ev sim.OrderEvent) error {
	if ev.Kind == sim.OrderRejected {
		ctx.Log.Warn("order rejected",
			zap.String("order", ev.Order.ID), zap.String("reason", ev.Reason))
	}
	return nil
}

func (s *EMACross) OnStop(ctx *Context) error {
	ctx.Log.Info("ema-cross stopped",
		zap.String("net", ctx.NetPosition(s.cfg.InstrumentID).String()))
	return nil
}
