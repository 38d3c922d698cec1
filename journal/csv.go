package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/rustyeddy/backsim/ledger"
)

// CSVJournal writes fills, equity snapshots and run summaries to three
// CSV files, one row per record, flushed as it goes.
type CSVJournal struct {
	fills  *csv.Writer
	equity *csv.Writer
	runs   *csv.Writer
	ff, ef *os.File
	rf     *os.File
}

func NewCSV(fillsPath, equityPath, runsPath string) (*CSVJournal, error) {
	ff, err := os.Create(fillsPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		ff.Close()
		return nil, err
	}
	rf, err := os.Create(runsPath)
	if err != nil {
		ff.Close()
		ef.Close()
		return nil, err
	}

	j := &CSVJournal{
		fills:  csv.NewWriter(ff),
		equity: csv.NewWriter(ef),
		runs:   csv.NewWriter(rf),
		ff:     ff,
		ef:     ef,
		rf:     rf,
	}

	headers := []struct {
		w   *csv.Writer
		row []string
	}{
		{j.fills, []string{"run_id", "fill_id", "order_id", "position_id", "strategy_id", "instrument", "side", "quantity", "price", "commission", "time"}},
		{j.equity, []string{"run_id", "time", "balance", "equity", "margin_used", "free_margin"}},
		{j.runs, []string{"run_id", "venue", "currency", "start", "stop", "starting_capital", "final_balance", "final_equity", "fills", "created_at"}},
	}
	for _, h := range headers {
		if err := h.w.Write(h.row); err != nil {
			j.Close()
			return nil, err
		}
		h.w.Flush()
		if err := h.w.Error(); err != nil {
			j.Close()
			return nil, err
		}
	}
	return j, nil
}

func (j *CSVJournal) RecordFill(runID string, f ledger.FillEvent) error {
	if err := j.fills.Write([]string{
		runID,
		f.ID,
		f.OrderID,
		f.PositionID,
		f.StrategyID,
		f.InstrumentID,
		f.Side.String(),
		f.Quantity.String(),
		f.Price.String(),
		f.Commission.String(),
		f.Time.Format(time.RFC3339Nano),
	}); err != nil {
		return err
	}
	j.fills.Flush()
	return j.fills.Error()
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	if err := j.equity.Write([]string{
		e.RunID,
		e.Time.Format(time.RFC3339Nano),
		e.Balance.String(),
		e.Equity.String(),
		e.MarginUsed.String(),
		e.FreeMargin.String(),
	}); err != nil {
		return err
	}
	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSVJournal) RecordRun(r RunRecord) error {
	if err := j.runs.Write([]string{
		r.RunID,
		r.Venue,
		r.Currency,
		r.Start.Format(time.RFC3339Nano),
		r.Stop.Format(time.RFC3339Nano),
		r.StartingCapital.String(),
		r.FinalBalance.String(),
		r.FinalEquity.String(),
		strconv.Itoa(r.Fills),
		r.CreatedAt.Format(time.RFC3339Nano),
	}); err != nil {
		return err
	}
	j.runs.Flush()
	return j.runs.Error()
}

func (j *CSVJournal) Close() error {
	j.fills.Flush()
	j.equity.Flush()
	j.runs.Flush()

	var first error
	for _, c := range []interface{ Close() error }{j.ff, j.ef, j.rf} {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
