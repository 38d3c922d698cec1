package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/backsim/market"
)

type OrderStatus uint8

const (
	Initialized OrderStatus = iota
	Submitted
	Accepted
	PartiallyFilled
	Filled
	Canceled
	Rejected
	Expired
)

func (s OrderStatus) String() string {
	switch s {
	case Initialized:
		return "INITIALIZED"
	case Submitted:
		return "SUBMITTED"
	case Accepted:
		return "ACCEPTED"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Canceled:
		return "CANCELED"
	case Rejected:
		return "REJECTED"
	case Expired:
		return "EXPIRED"
	}
	return fmt.Sprintf("OrderStatus(%d)", uint8(s))
}

// Terminal reports whether no further transition may leave this status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case Filled, Canceled, Rejected, Expired:
		return true
	}
	return false
}

// transitions lists every legal status edge. Anything absent is a bug in
// the venue simulator, surfaced as ErrInconsistent.
//
// PartiallyFilled is reserved for liquidity-capped matching; the bar
// simulator today always fills the full open quantity in one step, so the
// state is reachable only through these edges, never produced by the venue.
var transitions = map[OrderStatus][]OrderStatus{
	Initialized:     {Submitted},
	Submitted:       {Accepted, Rejected},
	Accepted:        {PartiallyFilled, Filled, Canceled, Expired},
	PartiallyFilled: {PartiallyFilled, Filled, Canceled, Expired},
}

// Order is owned by the Ledger and mutated only through venue-issued
// transitions.
type Order struct {
	ID           string
	StrategyID   string
	InstrumentID string
	Side         market.Side
	Type         market.OrderType
	Quantity     decimal.Decimal
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
	Price        decimal.Decimal // limit or stop level; zero for market
	Status       OrderStatus
	SubmitTime   time.Time
	ExpireTime   time.Time // zero means good-till-end-of-run
	Reason       string    // set on reject/cancel/expire
}

// LeavesQty is the quantity still open.
func (o *Order) LeavesQty() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// Transition moves the order to a new status, enforcing monotonicity:
// there is no edge out of a terminal state.
func (o *Order) Transition(next OrderStatus) error {
	for _, allowed := range transitions[o.Status] {
		if allowed == next {
			o.Status = next
			return nil
		}
	}
	return fmt.Errorf("%w: order %s cannot transition %s -> %s",
		ErrInconsistent, o.ID, o.Status, next)
}
