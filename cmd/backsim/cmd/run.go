package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rustyeddy/backsim/backtest"
	"github.com/rustyeddy/backsim/config"
	"github.com/rustyeddy/backsim/data"
	"github.com/rustyeddy/backsim/internal/log"
	"github.com/rustyeddy/backsim/journal"
	"github.com/rustyeddy/backsim/market"
	"github.com/rustyeddy/backsim/strategies"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a configured backtest",
	Long: `Run replays the configured CSV bar series through the simulated
venue and drives the configured strategy against them.

Example:
  backsim run -c backtest.yaml
  backsim run -c backtest.yaml --seed 7 --start 2013-01-01T00:00:00Z --stop 2013-02-01T00:00:00Z`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	runCmd.Flags().Int64("seed", 0, "override fill model seed")
	runCmd.Flags().String("start", "", "override window start (RFC3339)")
	runCmd.Flags().String("stop", "", "override window stop (RFC3339)")
	runCmd.MarkFlagRequired("config")

	viper.BindPFlag("config", runCmd.Flags().Lookup("config"))
	viper.BindPFlag("seed", runCmd.Flags().Lookup("seed"))
	viper.BindPFlag("start", runCmd.Flags().Lookup("start"))
	viper.BindPFlag("stop", runCmd.Flags().Lookup("stop"))
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(viper.GetString("config"))
	if err != nil {
		return err
	}
	if s := viper.GetInt64("seed"); s != 0 {
		cfg.FillModel.Seed = s
	}
	if s := viper.GetString("start"); s != "" {
		cfg.Window.Start = s
	}
	if s := viper.GetString("stop"); s != "" {
		cfg.Window.Stop = s
	}

	logger, err := log.New(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	jnl, err := openJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer jnl.Close()

	store, err := loadStore(cfg)
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}

	strat, err := strategies.New(cfg.Strategy.Name, cfg.Strategy.Params)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	runCfg, err := cfg.RunConfig()
	if err != nil {
		return err
	}
	engine, err := backtest.New(runCfg, store, []strategies.Strategy{strat},
		backtest.WithLogger(logger), backtest.WithJournal(jnl))
	if err != nil {
		return err
	}

	start, stop, err := cfg.WindowTimes()
	if err != nil {
		return err
	}

	result, err := engine.Run(context.Background(), start, stop)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	printResult(result)
	return nil
}

func openJournal(jc config.JournalConfig) (journal.Journal, error) {
	switch jc.Type {
	case "", "memory":
		return journal.NewMemory(), nil
	case "csv":
		return journal.NewCSV(jc.FillsFile, jc.EquityFile, jc.RunsFile)
	case "sqlite":
		return journal.NewSQLite(jc.DBPath)
	}
	return nil, fmt.Errorf("unknown journal type %q", jc.Type)
}

func loadStore(cfg *config.Config) (*data.Store, error) {
	store := data.NewStore()
	for _, ic := range cfg.Data.Instruments {
		venue := ic.Venue
		if venue == "" {
			venue = cfg.Venue
		}
		inst := market.FXInstrument(ic.Symbol, venue)
		if err := store.AddInstrument(inst); err != nil {
			return nil, err
		}
		for _, sc := range ic.Series {
			spec, err := market.ParseBarSpec(sc.Spec)
			if err != nil {
				return nil, err
			}
			bars, err := data.LoadBarsCSV(sc.File)
			if err != nil {
				return nil, err
			}
			if err := store.AddBars(inst.ID(), spec, bars); err != nil {
				return nil, err
			}
		}
	}
	return store, nil
}

func printResult(r backtest.Result) {
	a := r.Account
	fmt.Printf("\nBacktest Complete!  run=%s events=%d\n\n", r.RunID, r.Events)

	fmt.Println("Account Report")
	fmt.Printf("  Window:      %s .. %s\n", a.Start.Format(time.RFC3339), a.Stop.Format(time.RFC3339))
	fmt.Printf("  Starting:    %s %s\n", a.StartingCapital, a.Currency)
	fmt.Printf("  Balance:     %s %s\n", a.FinalBalance, a.Currency)
	fmt.Printf("  Equity:      %s %s\n", a.FinalEquity, a.Currency)
	fmt.Printf("  Margin Used: %s %s\n", a.MarginUsed, a.Currency)
	fmt.Printf("  PnL:         %s %s\n", a.PnL, a.Currency)

	fmt.Printf("\nFills (%d)\n", len(r.Fills))
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tORDER\tPOSITION\tINSTRUMENT\tSIDE\tQTY\tPRICE\tCOMMISSION\tTIME")
	for _, f := range r.Fills {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			f.ID, f.OrderID, f.PositionID, f.InstrumentID, f.Side,
			f.Quantity, f.Price, f.Commission, f.Time.Format(time.RFC3339))
	}
	w.Flush()

	fmt.Printf("\nPositions (%d)\n", len(r.Positions))
	w = tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tINSTRUMENT\tQTY\tAVG PRICE\tREALIZED\tCOMMISSIONS\tFILLS")
	for _, p := range r.Positions {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			p.ID, p.InstrumentID, p.Quantity, p.AvgPrice,
			p.RealizedPnL, p.Commissions, p.FillCount)
	}
	w.Flush()
	fmt.Println()
}
