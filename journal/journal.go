// Package journal persists execution state emitted during a run: the
// run itself, every fill, and per-event equity snapshots. The engine
// only depends on the Journal interface; backends are interchangeable.
package journal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/backsim/ledger"
)

// RunRecord summarizes one completed (or aborted) backtest run.
type RunRecord struct {
	RunID           string
	Venue           string
	Currency        string
	Start           time.Time
	Stop            time.Time
	StartingCapital decimal.Decimal
	FinalBalance    decimal.Decimal
	FinalEquity     decimal.Decimal
	Fills           int
	CreatedAt       time.Time
}

// EquitySnapshot is the account state after one processed event.
type EquitySnapshot struct {
	RunID      string
	Time       time.Time
	Balance    decimal.Decimal
	Equity     decimal.Decimal
	MarginUsed decimal.Decimal
	FreeMargin decimal.Decimal
}

type Journal interface {
	RecordRun(RunRecord) error
	RecordFill(runID string, f ledger.FillEvent) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// Memory keeps everything in process, mirroring an in-memory execution
// database. It is the default backend.
type Memory struct {
	runs   []RunRecord
	fills  map[string][]ledger.FillEvent
	equity map[string][]EquitySnapshot
}

func NewMemory() *Memory {
	return &Memory{
		fills:  make(map[string][]ledger.FillEvent),
		equity: make(map[string][]EquitySnapshot),
	}
}

func (m *Memory) RecordRun(r RunRecord) error {
	m.runs = append(m.runs, r)
	return nil
}

func (m *Memory) RecordFill(runID string, f ledger.FillEvent) error {
	m.fills[runID] = append(m.fills[runID], f)
	return nil
}

func (m *Memory) RecordEquity(e EquitySnapshot) error {
	m.equity[e.RunID] = append(m.equity[e.RunID], e)
	return nil
}

func (m *Memory) Close() error { return nil }

// Runs returns every recorded run.
func (m *Memory) Runs() []RunRecord {
	return append([]RunRecord(nil), m.runs...)
}

// Fills returns the fill stream for a run in record order.
func (m *Memory) Fills(runID string) []ledger.FillEvent {
	return append([]ledger.FillEvent(nil), m.fills[runID]...)
}

// Equity returns the equity curve for a run.
func (m *Memory) Equity(runID string) []EquitySnapshot {
	return append([]EquitySnapshot(nil), m.equity[runID]...)
}
