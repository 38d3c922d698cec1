package market

import "fmt"

// Side of an order: +1 buy, -1 sell. The numeric values double as the
// sign applied to fill quantities when updating positions.
type Side int8

const (
	Buy  Side = +1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", int8(s))
}

// Sign returns the side as a signed multiplier.
func (s Side) Sign() int64 { return int64(s) }

type OrderType uint8

const (
	MarketOrder OrderType = iota
	LimitOrder
	StopOrder
)

func (t OrderType) String() string {
	switch t {
	case MarketOrder:
		return "MARKET"
	case LimitOrder:
		return "LIMIT"
	case StopOrder:
		return "STOP"
	}
	return fmt.Sprintf("OrderType(%d)", uint8(t))
}

// Aggregation is the time unit a bar summarizes.
type Aggregation uint8

const (
	Second Aggregation = iota
	Minute
	Hour
	Day
)

func (a Aggregation) String() string {
	switch a {
	case Second:
		return "SECOND"
	case Minute:
		return "MINUTE"
	case Hour:
		return "HOUR"
	case Day:
		return "DAY"
	}
	return fmt.Sprintf("Aggregation(%d)", uint8(a))
}

// PriceSide identifies which side of the book a bar series summarizes.
type PriceSide uint8

const (
	BidSide PriceSide = iota
	AskSide
	MidSide
)

func (p PriceSide) String() string {
	switch p {
	case BidSide:
		return "BID"
	case AskSide:
		return "ASK"
	case MidSide:
		return "MID"
	}
	return fmt.Sprintf("PriceSide(%d)", uint8(p))
}

// OMSMode controls whether opposing fills net into one position or open
// independent positions per entry order.
type OMSMode uint8

const (
	Netting OMSMode = iota
	Hedging
)

func (m OMSMode) String() string {
	switch m {
	case Netting:
		return "NETTING"
	case Hedging:
		return "HEDGING"
	}
	return fmt.Sprintf("OMSMode(%d)", uint8(m))
}

// ParseOMSMode maps the config spelling onto a mode.
func ParseOMSMode(s string) (OMSMode, error) {
	switch s {
	case "NETTING", "netting", "":
		return Netting, nil
	case "HEDGING", "hedging":
		return Hedging, nil
	}
	return Netting, fmt.Errorf("unknown order-management mode %q", s)
}
