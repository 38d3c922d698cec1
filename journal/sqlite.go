package journal

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/backsim/ledger"
	"github.com/rustyeddy/backsim/market"
)

// SQLiteJournal stores execution state in a SQLite database. Decimal
// columns are stored as text to keep exact values round-trippable.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordRun(r RunRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO runs
		(run_id, venue, currency, start, stop, starting_capital, final_balance, final_equity, fills, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Venue, r.Currency, r.Start, r.Stop,
		r.StartingCapital.String(), r.FinalBalance.String(), r.FinalEquity.String(),
		r.Fills, r.CreatedAt,
	)
	return err
}

func (j *SQLiteJournal) RecordFill(runID string, f ledger.FillEvent) error {
	_, err := j.db.Exec(`
		INSERT INTO fills
		(run_id, fill_id, order_id, position_id, strategy_id, instrument, side, quantity, price, commission, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, f.ID, f.OrderID, f.PositionID, f.StrategyID, f.InstrumentID,
		f.Side.String(), f.Quantity.String(), f.Price.String(), f.Commission.String(), f.Time,
	)
	return err
}

func (j *SQLiteJournal) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(run_id, time, balance, equity, margin_used, free_margin)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Time,
		e.Balance.String(), e.Equity.String(), e.MarginUsed.String(), e.FreeMargin.String(),
	)
	return err
}

// FillsByRun reads back the fill stream for a run in fill-ID order.
func (j *SQLiteJournal) FillsByRun(runID string) ([]ledger.FillEvent, error) {
	rows, err := j.db.Query(`
		SELECT fill_id, order_id, position_id, strategy_id, instrument, side, quantity, price, commission, time
		FROM fills WHERE run_id = ? ORDER BY time, fill_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.FillEvent
	for rows.Next() {
		var f ledger.FillEvent
		var side, qty, price, comm string
		var ts time.Time
		if err := rows.Scan(&f.ID, &f.OrderID, &f.PositionID, &f.StrategyID,
			&f.InstrumentID, &side, &qty, &price, &comm, &ts); err != nil {
			return nil, err
		}
		if side == market.Sell.String() {
			f.Side = market.Sell
		} else {
			f.Side = market.Buy
		}
		if f.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if f.Commission, err = decimal.NewFromString(comm); err != nil {
			return nil, err
		}
		f.Time = ts
		out = append(out, f)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
