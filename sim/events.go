package sim

import (
	"fmt"
	"time"

	"github.com/rustyeddy/backsim/ledger"
)

type OrderEventKind uint8

const (
	OrderSubmitted OrderEventKind = iota
	OrderAccepted
	OrderRejected
	OrderFilled
	OrderPartiallyFilled
	OrderCanceled
	OrderExpired
	OrderModified
)

func (k OrderEventKind) String() string {
	switch k {
	case OrderSubmitted:
		return "SUBMITTED"
	case OrderAccepted:
		return "ACCEPTED"
	case OrderRejected:
		return "REJECTED"
	case OrderFilled:
		return "FILLED"
	case OrderPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderCanceled:
		return "CANCELED"
	case OrderExpired:
		return "EXPIRED"
	case OrderModified:
		return "MODIFIED"
	}
	return fmt.Sprintf("OrderEventKind(%d)", uint8(k))
}

// OrderEvent notifies the owning strategy of an order lifecycle change.
// Order is a copy of the ledger state at emission time; Fill is set for
// the fill kinds only.
type OrderEvent struct {
	Kind   OrderEventKind
	Order  ledger.Order
	Time   time.Time
	Reason string
	Fill   *ledger.FillEvent
}

// EventHandler receives order events synchronously from the venue.
type EventHandler func(OrderEvent)
