// Package data holds the pre-loaded bar series a backtest runs over and
// merges them into one deterministic event timeline.
package data

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/backsim/market"
)

var (
	// ErrConfiguration marks invalid or inconsistent setup detected at
	// registration time. Runs never start on top of it.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrDataGap marks a requested window with no covering bar data.
	ErrDataGap = errors.New("no bar data covers the requested window")
)

// Store registers instruments and their bar series before a run starts.
// All validation happens at registration; the simulation loop reads the
// store without further checks.
type Store struct {
	instruments map[string]market.Instrument
	series      map[market.BarType][]market.Bar
}

func NewStore() *Store {
	return &Store{
		instruments: make(map[string]market.Instrument),
		series:      make(map[market.BarType][]market.Bar),
	}
}

// AddInstrument registers an instrument definition. Re-registering the
// same ID is a configuration error: instrument parameters are fixed for
// the duration of a run.
func (s *Store) AddInstrument(inst market.Instrument) error {
	if err := inst.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if _, ok := s.instruments[inst.ID()]; ok {
		return fmt.Errorf("%w: instrument %s registered twice", ErrConfiguration, inst.ID())
	}
	s.instruments[inst.ID()] = inst
	return nil
}

// AddBars attaches a bar series for (instrument, spec). The series must
// be non-empty with strictly increasing timestamps, and when both bid
// and ask series exist for the same instrument and spec family their
// timestamps must align bar for bar.
func (s *Store) AddBars(instrumentID string, spec market.BarSpec, bars []market.Bar) error {
	inst, ok := s.instruments[instrumentID]
	if !ok {
		return fmt.Errorf("%w: bars reference unregistered instrument %s", ErrConfiguration, instrumentID)
	}
	if len(bars) == 0 {
		return fmt.Errorf("%w: empty bar series for %s %s", ErrConfiguration, instrumentID, spec)
	}

	bt := market.BarType{InstrumentID: inst.ID(), Spec: spec}
	if _, ok := s.series[bt]; ok {
		return fmt.Errorf("%w: series %s registered twice", ErrConfiguration, bt)
	}

	var prev time.Time
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%w: series %s bar %d: %v", ErrConfiguration, bt, i, err)
		}
		if i > 0 && !b.Time.After(prev) {
			return fmt.Errorf("%w: series %s: timestamps not strictly increasing at index %d (%s -> %s)",
				ErrConfiguration, bt, i, prev.Format(time.RFC3339), b.Time.Format(time.RFC3339))
		}
		prev = b.Time
	}

	if err := s.checkSideAlignment(bt, bars); err != nil {
		return err
	}

	s.series[bt] = bars
	return nil
}

// checkSideAlignment enforces the bid/ask pairing invariant: the sibling
// series (same instrument and spec, opposite book side) must have the
// same length and identical timestamps.
func (s *Store) checkSideAlignment(bt market.BarType, bars []market.Bar) error {
	var sibling market.PriceSide
	switch bt.Spec.PriceSide {
	case market.BidSide:
		sibling = market.AskSide
	case market.AskSide:
		sibling = market.BidSide
	default:
		return nil
	}

	sbt := bt
	sbt.Spec.PriceSide = sibling
	other, ok := s.series[sbt]
	if !ok {
		return nil
	}

	if len(other) != len(bars) {
		return fmt.Errorf("%w: %s has %d bars but %s has %d", ErrConfiguration, bt, len(bars), sbt, len(other))
	}
	for i := range bars {
		if !bars[i].Time.Equal(other[i].Time) {
			return fmt.Errorf("%w: %s and %s timestamps diverge at index %d", ErrConfiguration, bt, sbt, i)
		}
	}
	return nil
}

// Instrument looks up a registered instrument by ID.
func (s *Store) Instrument(id string) (market.Instrument, bool) {
	inst, ok := s.instruments[id]
	return inst, ok
}

// Instruments returns all registered instruments sorted by ID.
func (s *Store) Instruments() []market.Instrument {
	out := make([]market.Instrument, 0, len(s.instruments))
	for _, inst := range s.instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Bars returns the ordered series for a bar type.
func (s *Store) Bars(bt market.BarType) ([]market.Bar, bool) {
	bars, ok := s.series[bt]
	return bars, ok
}

// BarTypes returns every registered series key in deterministic order.
func (s *Store) BarTypes() []market.BarType {
	out := make([]market.BarType, 0, len(s.series))
	for bt := range s.series {
		out = append(out, bt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Empty reports whether no series are registered.
func (s *Store) Empty() bool { return len(s.series) == 0 }

// Bounds returns the earliest and latest bar timestamps across every
// registered series, used to bound the run window.
func (s *Store) Bounds() (earliest, latest time.Time, err error) {
	if len(s.series) == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: no bar series registered", ErrConfiguration)
	}
	for _, bars := range s.series {
		first, last := bars[0].Time, bars[len(bars)-1].Time
		if earliest.IsZero() || first.Before(earliest) {
			earliest = first
		}
		if latest.IsZero() || last.After(latest) {
			latest = last
		}
	}
	return earliest, latest, nil
}
