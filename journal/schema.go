package journal

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	venue TEXT NOT NULL,
	currency TEXT NOT NULL,
	start DATETIME NOT NULL,
	stop DATETIME NOT NULL,
	starting_capital TEXT NOT NULL,
	final_balance TEXT NOT NULL,
	final_equity TEXT NOT NULL,
	fills INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
	run_id TEXT NOT NULL,
	fill_id TEXT NOT NULL,
	order_id TEXT NOT NULL,
	position_id TEXT NOT NULL,
	strategy_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	commission TEXT NOT NULL,
	time DATETIME NOT NULL,
	PRIMARY KEY (run_id, fill_id)
);

CREATE TABLE IF NOT EXISTS equity (
	run_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	balance TEXT NOT NULL,
	equity TEXT NOT NULL,
	margin_used TEXT NOT NULL,
	free_margin TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_run ON fills(run_id);
CREATE INDEX IF NOT EXISTS idx_equity_run_time ON equity(run_id, time);
`
