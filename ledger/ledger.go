// Package ledger keeps the execution state of one backtest run: orders,
// positions, fills and the cash account. It is mutated only by the venue
// simulator and read by everything else.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/backsim/market"
)

var (
	// ErrDuplicateFill is reported when a fill ID is applied twice. The
	// reapplication is a no-op; callers may log and continue.
	ErrDuplicateFill = errors.New("fill already applied")

	// ErrInconsistent marks an execution-state invariant breach. It is
	// unrecoverable for the run.
	ErrInconsistent = errors.New("execution state inconsistent")
)

// Ledger is the in-memory execution-state store for a single run. It is
// not safe for concurrent use: one run, one goroutine, by design of the
// discrete-event loop.
type Ledger struct {
	oms     market.OMSMode
	account Account

	orders    map[string]*Order
	orderSeq  []string // insertion order, for deterministic iteration
	positions map[string]*Position
	posSeq    []string
	fills     []FillEvent
	applied   map[string]struct{}

	posCounter int
}

func New(currency string, startingCapital decimal.Decimal, oms market.OMSMode) *Ledger {
	return &Ledger{
		oms: oms,
		account: Account{
			Currency:        currency,
			StartingCapital: startingCapital,
			Balance:         startingCapital,
			Equity:          startingCapital,
		},
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
		applied:   make(map[string]struct{}),
	}
}

// OMS returns the order-management mode the ledger nets under.
func (l *Ledger) OMS() market.OMSMode { return l.oms }

// Account returns the current account state by value.
func (l *Ledger) Account() Account { return l.account }

// AddOrder registers a new venue-owned order. IDs must be unique.
func (l *Ledger) AddOrder(o *Order) error {
	if _, ok := l.orders[o.ID]; ok {
		return fmt.Errorf("%w: order %s added twice", ErrInconsistent, o.ID)
	}
	l.orders[o.ID] = o
	l.orderSeq = append(l.orderSeq, o.ID)
	return nil
}

// Order returns the ledger-owned order for an ID.
func (l *Ledger) Order(id string) (*Order, bool) {
	o, ok := l.orders[id]
	return o, ok
}

// OrdersByStatus returns orders currently in a status, in submission order.
func (l *Ledger) OrdersByStatus(status OrderStatus) []*Order {
	var out []*Order
	for _, id := range l.orderSeq {
		if o := l.orders[id]; o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

// PositionsByInstrument returns positions for one instrument, in open order.
func (l *Ledger) PositionsByInstrument(instrumentID string) []*Position {
	var out []*Position
	for _, id := range l.posSeq {
		if p := l.positions[id]; p.InstrumentID == instrumentID {
			out = append(out, p)
		}
	}
	return out
}

// PositionID resolves (and lazily allocates) the position a new entry
// fill for (strategy, instrument) books against. Netting reuses the one
// net position; hedging opens a fresh position per entry order, so the
// venue passes the preallocated ID back in on every child fill.
func (l *Ledger) PositionID(strategyID, instrumentID string) string {
	if l.oms == market.Netting {
		return "P-" + strategyID + "-" + instrumentID
	}
	l.posCounter++
	return fmt.Sprintf("P-%d", l.posCounter)
}

// Apply folds a fill event into position and account state. Reapplying
// the same fill ID changes nothing and reports ErrDuplicateFill.
//
// Cash policy: balance moves by realized PnL minus commission, so at any
// instant balance == starting capital + Σ(realized − commission). The
// equity mark against current prices is the venue's job (Revalue).
func (l *Ledger) Apply(f FillEvent) error {
	if f.ID == "" {
		return fmt.Errorf("%w: fill without ID for order %s", ErrInconsistent, f.OrderID)
	}
	if _, dup := l.applied[f.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateFill, f.ID)
	}
	if f.Quantity.Sign() <= 0 {
		return fmt.Errorf("%w: fill %s has non-positive quantity %s", ErrInconsistent, f.ID, f.Quantity)
	}

	pos, ok := l.positions[f.PositionID]
	if !ok {
		pos = &Position{
			ID:           f.PositionID,
			StrategyID:   f.StrategyID,
			InstrumentID: f.InstrumentID,
		}
		l.positions[f.PositionID] = pos
		l.posSeq = append(l.posSeq, f.PositionID)
	}

	realized := pos.apply(f)
	l.account.Balance = l.account.Balance.Add(realized).Sub(f.Commission)

	l.applied[f.ID] = struct{}{}
	l.fills = append(l.fills, f)
	return nil
}

// SetMarks updates the derived account fields from the venue's current
// view: equity = balance + unrealized, margin from open notionals.
func (l *Ledger) SetMarks(equity, marginUsed decimal.Decimal) {
	l.account.Equity = equity
	l.account.MarginUsed = marginUsed
}

// OpenPositions returns every open position in deterministic order.
func (l *Ledger) OpenPositions() []*Position {
	var out []*Position
	for _, id := range l.posSeq {
		if p := l.positions[id]; p.Open() {
			out = append(out, p)
		}
	}
	return out
}

// CheckInvariants verifies the core bookkeeping identities; any failure
// is ErrInconsistent and should abort the run.
func (l *Ledger) CheckInvariants() error {
	// cash identity
	expect := l.account.StartingCapital
	for _, p := range l.positions {
		expect = expect.Add(p.RealizedPnL).Sub(p.Commissions)
	}
	if !expect.Equal(l.account.Balance) {
		return fmt.Errorf("%w: balance %s != starting capital + realized - commissions (%s)",
			ErrInconsistent, l.account.Balance, expect)
	}

	// position quantity identity
	sums := make(map[string]decimal.Decimal)
	for _, f := range l.fills {
		sums[f.PositionID] = sums[f.PositionID].Add(f.SignedQty())
	}
	for id, p := range l.positions {
		if !sums[id].Equal(p.Quantity) {
			return fmt.Errorf("%w: position %s quantity %s != signed fill sum %s",
				ErrInconsistent, id, p.Quantity, sums[id])
		}
	}
	return nil
}

// Snapshot is an immutable copy of the full execution state.
type Snapshot struct {
	Account   Account
	Orders    []Order
	Positions []Position
	Fills     []FillEvent
}

// Snapshot copies out the current state. Orders and positions are sorted
// by ID so two identical runs snapshot identically.
func (l *Ledger) Snapshot() Snapshot {
	snap := Snapshot{
		Account: l.account,
		Fills:   append([]FillEvent(nil), l.fills...),
	}
	for _, o := range l.orders {
		snap.Orders = append(snap.Orders, *o)
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].ID < snap.Orders[j].ID })
	for _, p := range l.positions {
		snap.Positions = append(snap.Positions, *p)
	}
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].ID < snap.Positions[j].ID })
	return snap
}
