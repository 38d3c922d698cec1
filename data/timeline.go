package data

import (
	"fmt"
	"time"

	"github.com/rustyeddy/backsim/market"
)

// Event is one bar arriving on the merged timeline.
type Event struct {
	BarType market.BarType
	Bar     market.Bar
}

// Timeline is a single-pass k-way merge over every series registered in
// a Store, bounded to [start, stop). Events come out in strictly
// non-decreasing time order; equal timestamps are broken by the bar
// type's total order so processing order is identical across runs.
// A Timeline cannot be rewound once consumed.
type Timeline struct {
	cursors []cursor
}

type cursor struct {
	barType market.BarType
	bars    []market.Bar
	idx     int
}

// NewTimeline positions a cursor at the first bar inside the window for
// each registered series. It fails with ErrDataGap when no series has a
// single bar in [start, stop), unless the window is empty (start equals
// stop), which is a valid degenerate run.
func NewTimeline(store *Store, start, stop time.Time) (*Timeline, error) {
	tl := &Timeline{}

	for _, bt := range store.BarTypes() {
		bars, _ := store.Bars(bt)
		i := 0
		for i < len(bars) && bars[i].Time.Before(start) {
			i++
		}
		if i == len(bars) || !bars[i].Time.Before(stop) {
			continue // series has nothing inside the window
		}
		tl.cursors = append(tl.cursors, cursor{barType: bt, bars: clampStop(bars[i:], stop)})
	}

	if len(tl.cursors) == 0 && stop.After(start) {
		return nil, fmt.Errorf("%w: [%s, %s)", ErrDataGap,
			start.Format(time.RFC3339), stop.Format(time.RFC3339))
	}
	return tl, nil
}

// clampStop trims trailing bars at or past the stop boundary.
func clampStop(bars []market.Bar, stop time.Time) []market.Bar {
	n := len(bars)
	for n > 0 && !bars[n-1].Time.Before(stop) {
		n--
	}
	return bars[:n]
}

// Next pops the next event in timeline order. ok is false once every
// cursor is exhausted.
func (t *Timeline) Next() (ev Event, ok bool) {
	best := -1
	for i := range t.cursors {
		c := &t.cursors[i]
		if c.idx >= len(c.bars) {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		b := &t.cursors[best]
		bi, bb := c.bars[c.idx].Time, b.bars[b.idx].Time
		if bi.Before(bb) || (bi.Equal(bb) && c.barType.Less(b.barType)) {
			best = i
		}
	}
	if best == -1 {
		return Event{}, false
	}

	c := &t.cursors[best]
	ev = Event{BarType: c.barType, Bar: c.bars[c.idx]}
	c.idx++
	return ev, true
}

// Remaining counts events not yet consumed.
func (t *Timeline) Remaining() int {
	n := 0
	for i := range t.cursors {
		n += len(t.cursors[i].bars) - t.cursors[i].idx
	}
	return n
}
