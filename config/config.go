// Package config loads backtest run configuration from YAML or JSON
// files and maps it onto the engine's run config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/backsim/backtest"
	"github.com/rustyeddy/backsim/market"
)

// Config is the complete file-level run configuration.
type Config struct {
	Venue     string          `json:"venue" yaml:"venue"`
	Account   AccountConfig   `json:"account" yaml:"account"`
	OMS       string          `json:"oms" yaml:"oms"`
	FillModel FillModelConfig `json:"fill_model" yaml:"fill_model"`
	Window    WindowConfig    `json:"window" yaml:"window"`
	Data      DataConfig      `json:"data" yaml:"data"`
	Strategy  StrategyConfig  `json:"strategy" yaml:"strategy"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// AccountConfig sets the single venue account up. StartingCapital is a
// decimal string so config round-trips exactly.
type AccountConfig struct {
	Currency        string `json:"currency" yaml:"currency"`
	StartingCapital string `json:"starting_capital" yaml:"starting_capital"`
}

type FillModelConfig struct {
	ProbFillAtLimit float64 `json:"prob_fill_at_limit" yaml:"prob_fill_at_limit"`
	ProbFillAtStop  float64 `json:"prob_fill_at_stop" yaml:"prob_fill_at_stop"`
	ProbSlippage    float64 `json:"prob_slippage" yaml:"prob_slippage"`
	Seed            int64   `json:"seed" yaml:"seed"`
}

// WindowConfig bounds the run, RFC3339. Empty means the full data range.
type WindowConfig struct {
	Start string `json:"start,omitempty" yaml:"start,omitempty"`
	Stop  string `json:"stop,omitempty" yaml:"stop,omitempty"`
}

type DataConfig struct {
	Instruments []InstrumentConfig `json:"instruments" yaml:"instruments"`
}

type InstrumentConfig struct {
	Symbol string         `json:"symbol" yaml:"symbol"`
	Venue  string         `json:"venue" yaml:"venue"`
	Series []SeriesConfig `json:"series" yaml:"series"`
}

// SeriesConfig names one bar series CSV keyed by its spec spelling,
// e.g. "1-MINUTE-BID".
type SeriesConfig struct {
	Spec string `json:"spec" yaml:"spec"`
	File string `json:"file" yaml:"file"`
}

type StrategyConfig struct {
	Name   string            `json:"name" yaml:"name"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// JournalConfig selects the execution-state store: memory, csv or
// sqlite.
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"`
	FillsFile  string `json:"fills_file,omitempty" yaml:"fills_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	RunsFile   string `json:"runs_file,omitempty" yaml:"runs_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type LoggingConfig struct {
	Level    string `json:"level,omitempty" yaml:"level,omitempty"`
	Encoding string `json:"encoding,omitempty" yaml:"encoding,omitempty"`
}

// LoadFromFile reads a config, trying YAML first, then JSON, and
// validates it.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		if jerr := json.Unmarshal(raw, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the config as YAML (.yaml/.yml) or indented JSON.
func (c *Config) SaveToFile(path string) error {
	var raw []byte
	var err error
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		raw, err = yaml.Marshal(c)
	} else {
		raw, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks everything that can be checked without touching data
// files.
func (c *Config) Validate() error {
	if c.Venue == "" {
		return fmt.Errorf("venue is required")
	}
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	capital, err := decimal.NewFromString(c.Account.StartingCapital)
	if err != nil {
		return fmt.Errorf("account.starting_capital %q is not a decimal", c.Account.StartingCapital)
	}
	if capital.Sign() <= 0 {
		return fmt.Errorf("account.starting_capital must be positive")
	}
	if _, err := market.ParseOMSMode(c.OMS); err != nil {
		return err
	}
	for name, p := range map[string]float64{
		"fill_model.prob_fill_at_limit": c.FillModel.ProbFillAtLimit,
		"fill_model.prob_fill_at_stop":  c.FillModel.ProbFillAtStop,
		"fill_model.prob_slippage":      c.FillModel.ProbSlippage,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be in [0, 1]", name)
		}
	}
	if _, _, err := c.WindowTimes(); err != nil {
		return err
	}
	if len(c.Data.Instruments) == 0 {
		return fmt.Errorf("data.instruments must not be empty")
	}
	for _, inst := range c.Data.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("data instrument requires a symbol")
		}
		venue := inst.Venue
		if venue == "" {
			venue = c.Venue
		}
		if err := market.FXInstrument(inst.Symbol, venue).Validate(); err != nil {
			return err
		}
		if len(inst.Series) == 0 {
			return fmt.Errorf("instrument %s has no bar series", inst.Symbol)
		}
		for _, s := range inst.Series {
			if _, err := market.ParseBarSpec(s.Spec); err != nil {
				return err
			}
			if s.File == "" {
				return fmt.Errorf("instrument %s series %s has no data file", inst.Symbol, s.Spec)
			}
		}
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	switch c.Journal.Type {
	case "", "memory":
	case "csv":
		if c.Journal.FillsFile == "" || c.Journal.EquityFile == "" || c.Journal.RunsFile == "" {
			return fmt.Errorf("journal fills_file, equity_file and runs_file required for csv type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for sqlite type")
		}
	default:
		return fmt.Errorf("journal.type must be memory, csv or sqlite")
	}
	return nil
}

// WindowTimes parses the run window.
func (c *Config) WindowTimes() (start, stop time.Time, err error) {
	if c.Window.Start == "" && c.Window.Stop == "" {
		return time.Time{}, time.Time{}, nil
	}
	if c.Window.Start == "" || c.Window.Stop == "" {
		return start, stop, fmt.Errorf("window start and stop must both be set or both be empty")
	}
	if start, err = time.Parse(time.RFC3339, c.Window.Start); err != nil {
		return start, stop, fmt.Errorf("window.start: %w", err)
	}
	if stop, err = time.Parse(time.RFC3339, c.Window.Stop); err != nil {
		return start, stop, fmt.Errorf("window.stop: %w", err)
	}
	if stop.Before(start) {
		return start, stop, fmt.Errorf("window.stop before window.start")
	}
	return start, stop, nil
}

// RunConfig maps the file config onto the engine's run config.
func (c *Config) RunConfig() (backtest.Config, error) {
	capital, err := decimal.NewFromString(c.Account.StartingCapital)
	if err != nil {
		return backtest.Config{}, err
	}
	oms, err := market.ParseOMSMode(c.OMS)
	if err != nil {
		return backtest.Config{}, err
	}
	return backtest.Config{
		Venue:           c.Venue,
		StartingCapital: capital,
		AccountCurrency: c.Account.Currency,
		OMSMode:         oms,
		ProbFillAtLimit: c.FillModel.ProbFillAtLimit,
		ProbFillAtStop:  c.FillModel.ProbFillAtStop,
		ProbSlippage:    c.FillModel.ProbSlippage,
		FillSeed:        c.FillModel.Seed,
	}, nil
}

// Default returns a runnable starting point: one FX instrument, a
// 1-minute bid/ask pair, certain fills and an in-memory journal.
func Default() *Config {
	return &Config{
		Venue: "SIM",
		Account: AccountConfig{
			Currency:        "USD",
			StartingCapital: "1000000",
		},
		OMS: "NETTING",
		FillModel: FillModelConfig{
			ProbFillAtLimit: 0.2,
			ProbFillAtStop:  0.95,
			ProbSlippage:    0.5,
			Seed:            42,
		},
		Data: DataConfig{
			Instruments: []InstrumentConfig{{
				Symbol: "USD/JPY",
				Venue:  "SIM",
				Series: []SeriesConfig{
					{Spec: "1-MINUTE-BID", File: "./data/usdjpy-1min-bid.csv"},
					{Spec: "1-MINUTE-ASK", File: "./data/usdjpy-1min-ask.csv"},
				},
			}},
		},
		Strategy: StrategyConfig{
			Name: "ema-cross",
			Params: map[string]string{
				"instrument": "USD/JPY.SIM",
				"bar_spec":   "1-MINUTE-BID",
				"fast":       "10",
				"slow":       "20",
				"units":      "100000",
			},
		},
		Journal: JournalConfig{Type: "memory"},
		Logging: LoggingConfig{Level: "info", Encoding: "console"},
	}
}
