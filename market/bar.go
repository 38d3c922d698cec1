package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is an OHLCV summary for one (instrument, spec) over a fixed window.
// Bars are immutable and ordered by close time within their series.
type Bar struct {
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
	Time   time.Time // close timestamp
}

// Validate checks internal OHLC consistency.
func (b Bar) Validate() error {
	if b.Time.IsZero() {
		return fmt.Errorf("bar has no timestamp")
	}
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("bar at %s: high %s below low %s", b.Time.Format(time.RFC3339), b.High, b.Low)
	}
	if b.Open.GreaterThan(b.High) || b.Open.LessThan(b.Low) ||
		b.Close.GreaterThan(b.High) || b.Close.LessThan(b.Low) {
		return fmt.Errorf("bar at %s: open/close outside high/low range", b.Time.Format(time.RFC3339))
	}
	return nil
}

// BarSpec identifies an aggregation within an instrument's data:
// step count, time unit and price side, e.g. 1-MINUTE-BID.
type BarSpec struct {
	Step        int
	Aggregation Aggregation
	PriceSide   PriceSide
}

func (s BarSpec) String() string {
	return fmt.Sprintf("%d-%s-%s", s.Step, s.Aggregation, s.PriceSide)
}

// Duration returns the wall span one bar of this spec covers.
func (s BarSpec) Duration() time.Duration {
	step := time.Duration(s.Step)
	switch s.Aggregation {
	case Second:
		return step * time.Second
	case Minute:
		return step * time.Minute
	case Hour:
		return step * time.Hour
	case Day:
		return step * 24 * time.Hour
	}
	return 0
}

// BarType keys a bar series: which instrument, which spec.
type BarType struct {
	InstrumentID string
	Spec         BarSpec
}

func (t BarType) String() string {
	return t.InstrumentID + "-" + t.Spec.String()
}

// Less imposes the deterministic total order used to break timestamp
// ties when merging series: instrument, then step, then aggregation,
// then price side.
func (t BarType) Less(o BarType) bool {
	if t.InstrumentID != o.InstrumentID {
		return t.InstrumentID < o.InstrumentID
	}
	if t.Spec.Step != o.Spec.Step {
		return t.Spec.Step < o.Spec.Step
	}
	if t.Spec.Aggregation != o.Spec.Aggregation {
		return t.Spec.Aggregation < o.Spec.Aggregation
	}
	return t.Spec.PriceSide < o.Spec.PriceSide
}
