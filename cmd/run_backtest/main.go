// Command run_backtest replays one symbol's daily CSV through the band
// strategy and prints a performance report.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtest-service/services/arrowpipeline"
	"backtest-service/services/engine"
	"backtest-service/services/marketdata"
)

func main() {
	csvPath := flag.String("csv", "", "Path to daily OHLCV CSV (date,open,high,low,close,volume)")
	symbol := flag.String("symbol", "005930", "Symbol code")
	benchmarkPath := flag.String("benchmark", "", "Optional benchmark CSV aligned to the same dates")

	capital := flag.String("capital", "10000000", "Initial capital")
	bbPeriod := flag.Int("bb-period", 20, "Bollinger period")
	bbMult := flag.Float64("bb-mult", 2.0, "Bollinger std-dev multiplier")
	envPeriod := flag.Int("env-period", 20, "Envelope period")
	envPercent := flag.Float64("env-percent", 2.0, "Envelope percent")
	loose := flag.Bool("loose", false, "Loose signal mode (either band instead of both)")

	stopLoss := flag.String("stop-loss", "-0.03", "Stop-loss ratio (negative, 0 disables)")
	takeProfit := flag.String("take-profit", "0.05", "Take-profit ratio (0 disables)")
	trailingStop := flag.String("trailing-stop", "0", "Trailing-stop ratio (0 disables)")
	maxHold := flag.Int("max-hold", 0, "Max holding days (0 disables)")
	momentumExit := flag.Int("momentum-exit", 0, "Consecutive flat-or-down bars before a losing position is cut (0 disables)")
	reverseExit := flag.Bool("reverse-exit", true, "Sell held positions on an opposing signal")
	allocation := flag.String("allocation", "0.2", "Allocation ratio per entry")

	commission := flag.String("commission", "0.00015", "Commission rate per side")
	tax := flag.String("tax", "0.0023", "Disposal tax rate")
	slippage := flag.String("slippage", "0.0005", "Slippage rate")

	tradesOut := flag.String("trades-out", "", "Optional trade ledger CSV output path")
	arrowOut := flag.String("arrow-out", "", "Optional equity curve Arrow IPC output path")
	jsonOut := flag.String("json-out", "", "Optional full result JSON output path")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "missing -csv")
		flag.Usage()
		os.Exit(2)
	}

	logCfg := zap.NewDevelopmentConfig()
	if !*verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := engine.DefaultConfig()
	cfg.InitialCapital = mustDecimal(*capital, "capital")
	cfg.BollingerPeriod = *bbPeriod
	cfg.BollingerStdMult = *bbMult
	cfg.EnvelopePeriod = *envPeriod
	cfg.EnvelopePercent = *envPercent
	cfg.StrictSignals = !*loose
	cfg.StopLossRatio = mustDecimal(*stopLoss, "stop-loss")
	cfg.TakeProfitRatio = mustDecimal(*takeProfit, "take-profit")
	cfg.TrailingStopRatio = mustDecimal(*trailingStop, "trailing-stop")
	cfg.MaxHoldingDays = *maxHold
	cfg.MomentumExitBars = *momentumExit
	cfg.ReverseSignalExit = *reverseExit
	cfg.AllocationRatio = mustDecimal(*allocation, "allocation")
	cfg.CommissionRate = mustDecimal(*commission, "commission")
	cfg.TaxRate = mustDecimal(*tax, "tax")
	cfg.SlippageRate = mustDecimal(*slippage, "slippage")

	loader := marketdata.NewLoader(logger)
	bars, err := loader.LoadCSV(*csvPath, *symbol)
	if err != nil {
		logger.Fatal("load bars", zap.Error(err))
	}
	for _, gap := range marketdata.DetectGaps(bars, 0) {
		logger.Warn("gap in series",
			zap.Time("from", gap.From),
			zap.Time("to", gap.To),
			zap.Int("days", gap.Days),
		)
	}

	eng, err := engine.New(*symbol, cfg, logger)
	if err != nil {
		logger.Fatal("configure engine", zap.Error(err))
	}

	if *benchmarkPath != "" {
		benchBars, err := loader.LoadCSV(*benchmarkPath, "benchmark")
		if err != nil {
			logger.Fatal("load benchmark", zap.Error(err))
		}
		closes := make([]float64, len(benchBars))
		for i, b := range benchBars {
			closes[i] = b.Close.InexactFloat64()
		}
		eng.SetBenchmark(closes)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := eng.Run(ctx, bars)
	if err != nil {
		logger.Fatal("run", zap.Error(err))
	}

	printReport(result)

	if *tradesOut != "" {
		if err := exportTrades(*tradesOut, result.Trades); err != nil {
			logger.Fatal("export trades", zap.Error(err))
		}
		fmt.Printf("Trades written to %s\n", *tradesOut)
	}
	if *arrowOut != "" {
		data, err := arrowpipeline.NewExporter(logger).ExportEquity(result.RunID, result.EquityCurve)
		if err != nil {
			logger.Fatal("export equity curve", zap.Error(err))
		}
		if err := os.WriteFile(*arrowOut, data, 0o644); err != nil {
			logger.Fatal("write arrow file", zap.Error(err))
		}
		fmt.Printf("Equity curve written to %s\n", *arrowOut)
	}
	if *jsonOut != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			logger.Fatal("marshal result", zap.Error(err))
		}
		if err := os.WriteFile(*jsonOut, data, 0o644); err != nil {
			logger.Fatal("write json file", zap.Error(err))
		}
		fmt.Printf("Result written to %s\n", *jsonOut)
	}
}

func mustDecimal(s, name string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -%s %q\n", name, s)
		os.Exit(2)
	}
	return v
}

func printReport(res *engine.BacktestResult) {
	m := res.Metrics
	fmt.Println("=== Backtest Summary ===")
	fmt.Printf("Symbol: %s  Run: %s  Status: %s\n", res.Symbol, res.RunID, res.Status)
	if !res.StartDate.IsZero() {
		fmt.Printf("Period: %s to %s (%d bars)\n",
			res.StartDate.Format("2006-01-02"), res.EndDate.Format("2006-01-02"), len(res.EquityCurve))
	}
	fmt.Printf("Capital: %s -> %s  (%.2f%%)\n",
		res.InitialCapital.StringFixed(0), res.FinalCapital.StringFixed(0), m.TotalReturn)
	fmt.Printf("Annualized: %.2f%%  CAGR: %.2f%%  MDD: %.2f%%  Vol: %.2f%%\n",
		m.AnnualizedReturn, m.CAGR, m.MaxDrawdown, m.Volatility)
	fmt.Printf("Sharpe: %.2f  Sortino: %.2f  Calmar: %.2f  VaR95: %.2f%%\n",
		m.SharpeRatio, m.SortinoRatio, m.CalmarRatio, m.VaR95)
	fmt.Printf("Trades: %d  WinRate: %.1f%%  ProfitFactor: %g  Skipped: %d\n",
		m.TotalTrades, m.WinRate, m.ProfitFactor, res.SkippedEntries)
	if m.TotalTrades > 0 {
		fmt.Printf("AvgWin: %.0f  AvgLoss: %.0f  Streaks: +%d/-%d  Holding: %.1f days\n",
			m.AvgWin, m.AvgLoss, m.MaxConsecutiveWins, m.MaxConsecutiveLosses, m.AvgHoldingDays)
	}
	if res.Benchmark != nil {
		b := res.Benchmark
		fmt.Printf("Benchmark: %.2f%%  Beta: %.2f  Alpha: %.2f  TE: %.2f  IR: %.2f\n",
			b.BenchmarkReturn, b.Beta, b.Alpha, b.TrackingError, b.InformationRatio)
	}
}

func exportTrades(path string, trades []engine.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"symbol", "entry_date", "exit_date", "entry_price", "exit_price",
		"quantity", "commission", "tax", "realized_pnl", "profit_rate", "holding_days", "exit_reason"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.Symbol,
			t.EntryDate.Format("2006-01-02"),
			t.ExitDate.Format("2006-01-02"),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			fmt.Sprintf("%d", t.Quantity),
			t.Commission.String(),
			t.Tax.String(),
			t.RealizedPnl.String(),
			fmt.Sprintf("%.4f", t.ProfitRate),
			fmt.Sprintf("%d", t.HoldingDays),
			string(t.ExitReason),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
