// Package backtest orchestrates one deterministic run: it drives the
// merged bar timeline, advances the simulated clock, dispatches bars to
// strategies and forwards their commands to the venue simulator.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/backsim/data"
	"github.com/rustyeddy/backsim/internal/id"
	"github.com/rustyeddy/backsim/journal"
	"github.com/rustyeddy/backsim/ledger"
	"github.com/rustyeddy/backsim/market"
	"github.com/rustyeddy/backsim/sim"
	"github.com/rustyeddy/backsim/strategies"
)

// Engine runs one backtest. It is single use: the timeline is a single
// forward pass, so build a fresh engine per run. Independent engines
// share nothing and may run in parallel goroutines.
type Engine struct {
	cfg    Config
	store  *data.Store
	strats []strategies.Strategy
	log    *zap.Logger
	jnl    journal.Journal

	runID string
	clock *Clock
	led   *ledger.Ledger
	venue *sim.Venue

	sids   []string // strategy ids in registration order
	byID   map[string]strategies.Strategy
	ctxs   map[string]*strategies.Context
	subs   map[market.BarType][]string // bar type -> strategy ids
	events int
	ran    bool
	cbErr  error // first error raised inside an order-event callback
}

type Option func(*Engine)

// WithLogger attaches a logger; the default is a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithJournal attaches an execution-state store that receives every
// fill, per-event equity snapshots and the run summary. The journal is
// owned by the caller, which closes it.
func WithJournal(j journal.Journal) Option {
	return func(e *Engine) { e.jnl = j }
}

func New(cfg Config, store *data.Store, strats []strategies.Strategy, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil data store", data.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		store:  store,
		strats: strats,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes the backtest over [start, stop). A zero window spans all
// registered data. Cancelling ctx aborts between event-dispatch steps;
// partial state up to the last completed step remains valid and is
// returned in the Result.
func (e *Engine) Run(ctx context.Context, start, stop time.Time) (Result, error) {
	if e.ran {
		return Result{}, fmt.Errorf("%w: engine already ran, one run per engine", data.ErrConfiguration)
	}
	e.ran = true

	if err := validateWindow(start, stop); err != nil {
		return Result{}, err
	}
	if e.store.Empty() {
		return Result{}, fmt.Errorf("%w: no bar data registered", data.ErrConfiguration)
	}
	if start.IsZero() {
		earliest, latest, err := e.store.Bounds()
		if err != nil {
			return Result{}, err
		}
		start, stop = earliest, latest.Add(time.Nanosecond)
	}

	model, err := sim.NewFillModel(e.cfg.ProbFillAtLimit, e.cfg.ProbFillAtStop, e.cfg.ProbSlippage, e.cfg.FillSeed)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", data.ErrConfiguration, err)
	}

	e.runID = id.New()
	e.clock = NewClock(start)
	e.led = ledger.New(e.cfg.AccountCurrency, e.cfg.StartingCapital, e.cfg.OMSMode)
	e.venue = sim.NewVenue(e.cfg.Venue, e.store.Instruments(), e.led, model, e.log)
	e.venue.SetHandler(e.onOrderEvent)

	if err := e.wireStrategies(); err != nil {
		return Result{}, err
	}

	tl, err := data.NewTimeline(e.store, start, stop)
	if err != nil {
		// no covering data: report the empty result rather than
		// fabricating bars; strategies never start
		e.log.Warn("run window has no data", zap.Error(err))
		return buildResult(e.runID, e.cfg, start, stop, e.led.Snapshot(), 0, false), err
	}

	e.log.Info("run starting",
		zap.String("run", e.runID),
		zap.Time("start", start),
		zap.Time("stop", stop),
		zap.Int("events", tl.Remaining()),
		zap.Int("strategies", len(e.strats)))

	// OnStop goes only to strategies whose OnStart completed
	var started []string
	stopStrategies := func() {
		for _, sid := range started {
			if err := e.byID[sid].OnStop(e.ctxs[sid]); err != nil {
				e.log.Warn("strategy OnStop failed", zap.String("strategy", sid), zap.Error(err))
			}
		}
		started = nil
	}

	for _, sid := range e.sids {
		if err := e.byID[sid].OnStart(e.ctxs[sid]); err != nil {
			stopStrategies()
			return e.finish(start, stop, true), fmt.Errorf("strategy %s OnStart: %w", sid, err)
		}
		started = append(started, sid)
	}

	aborted := false
	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			aborted = true
			runErr = ctx.Err()
			break loop
		default:
		}

		ev, ok := tl.Next()
		if !ok {
			break
		}

		if err := e.step(ev); err != nil {
			aborted = true
			runErr = err
			break
		}
		e.events++
	}

	if runErr == nil {
		if err := e.led.CheckInvariants(); err != nil {
			aborted = true
			runErr = err
		}
	}

	stopStrategies()
	result := e.finish(start, stop, aborted)
	if runErr != nil {
		e.log.Error("run failed", zap.String("run", e.runID), zap.Error(runErr))
	} else {
		e.log.Info("run complete",
			zap.String("run", e.runID),
			zap.Int("events", result.Events),
			zap.Int("fills", len(result.Fills)),
			zap.String("pnl", result.Account.PnL.String()))
	}
	return result, runErr
}

// step processes one timeline event: advance the clock, let the venue
// match resting orders against the new bar, dispatch the bar to
// subscribed strategies, then activate orders they submitted so they
// are first evaluated on the next bar.
func (e *Engine) step(ev data.Event) error {
	if err := e.clock.Advance(ev.Bar.Time); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInconsistent, err)
	}

	if err := e.venue.ProcessBar(ev.BarType, ev.Bar); err != nil {
		return err
	}

	for _, sid := range e.subs[ev.BarType] {
		s := e.byID[sid]
		if err := s.OnBar(e.ctxs[sid], ev.BarType, ev.Bar); err != nil {
			return fmt.Errorf("strategy %s OnBar: %w", sid, err)
		}
	}

	e.venue.EndStep()

	if e.cbErr != nil {
		err := e.cbErr
		e.cbErr = nil
		return err
	}

	if e.jnl != nil {
		acct := e.led.Account()
		if err := e.jnl.RecordEquity(journal.EquitySnapshot{
			RunID:      e.runID,
			Time:       e.clock.Now(),
			Balance:    acct.Balance,
			Equity:     acct.Equity,
			MarginUsed: acct.MarginUsed,
			FreeMargin: acct.FreeMargin(),
		}); err != nil {
			return fmt.Errorf("journal equity: %w", err)
		}
	}
	return nil
}

// wireStrategies assigns each strategy a unique ID, builds its trading
// context and indexes its subscriptions.
func (e *Engine) wireStrategies() error {
	e.byID = make(map[string]strategies.Strategy, len(e.strats))
	e.ctxs = make(map[string]*strategies.Context, len(e.strats))
	e.subs = make(map[market.BarType][]string)

	for _, s := range e.strats {
		sid := s.Name()
		for n := 2; ; n++ {
			if _, taken := e.byID[sid]; !taken {
				break
			}
			sid = fmt.Sprintf("%s-%d", s.Name(), n)
		}
		e.sids = append(e.sids, sid)
		e.byID[sid] = s
		e.ctxs[sid] = &strategies.Context{
			StrategyID: sid,
			Clock:      e.clock,
			Venue:      e.venue,
			Ledger:     e.led,
			Log:        e.log.With(zap.String("strategy", sid)),
		}
		for _, bt := range s.Subscriptions() {
			if _, ok := e.store.Bars(bt); !ok {
				return fmt.Errorf("%w: strategy %s subscribes to %s but no such series is registered",
					data.ErrConfiguration, sid, bt)
			}
			e.subs[bt] = append(e.subs[bt], sid)
		}
	}
	return nil
}

// onOrderEvent routes venue events to the owning strategy and journals
// fills. Callback errors abort the run at the end of the current step.
func (e *Engine) onOrderEvent(ev sim.OrderEvent) {
	if ev.Fill != nil && e.jnl != nil {
		if err := e.jnl.RecordFill(e.runID, *ev.Fill); err != nil && e.cbErr == nil {
			e.cbErr = fmt.Errorf("journal fill: %w", err)
		}
	}

	sid := ev.Order.StrategyID
	s, ok := e.byID[sid]
	if !ok {
		return
	}
	if err := s.OnOrderEvent(e.ctxs[sid], ev); err != nil && e.cbErr == nil {
		e.cbErr = fmt.Errorf("strategy %s OnOrderEvent: %w", sid, err)
	}
}

// finish snapshots the ledger, records the run and builds the Result.
func (e *Engine) finish(start, stop time.Time, aborted bool) Result {
	snap := e.led.Snapshot()
	result := buildResult(e.runID, e.cfg, start, stop, snap, e.events, aborted)

	if e.jnl != nil {
		if err := e.jnl.RecordRun(journal.RunRecord{
			RunID:           e.runID,
			Venue:           e.cfg.Venue,
			Currency:        snap.Account.Currency,
			Start:           start,
			Stop:            stop,
			StartingCapital: snap.Account.StartingCapital,
			FinalBalance:    snap.Account.Balance,
			FinalEquity:     snap.Account.Equity,
			Fills:           len(snap.Fills),
			CreatedAt:       time.Now().UTC(),
		}); err != nil {
			e.log.Warn("journal run record failed", zap.Error(err))
		}
	}
	return result
}

// IsFatal reports whether a run error is one the caller cannot recover
// by adjusting orders: configuration problems, data gaps and ledger
// invariant breaches.
func IsFatal(err error) bool {
	return errors.Is(err, data.ErrConfiguration) ||
		errors.Is(err, data.ErrDataGap) ||
		errors.Is(err, ledger.ErrInconsistent)
}
