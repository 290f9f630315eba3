package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// makeBars builds flat daily bars (open = high = low = close) from the
// close series, starting 2024-01-02.
func makeBars(symbol string, closes ...float64) []Bar {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		bars[i] = Bar{
			Symbol:    symbol,
			Timestamp: base.AddDate(0, 0, i),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return bars
}

// dipAndRecover warms the indicators up, dips below the bands to trigger
// an entry, then recovers past the take-profit threshold.
func dipAndRecover(symbol string) []Bar {
	closes := make([]float64, 0, 23)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 90, 100, 100)
	return makeBars(symbol, closes...)
}

func TestRunCompletesWithTrade(t *testing.T) {
	eng, err := New("005930", DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := eng.Run(context.Background(), dipAndRecover("005930"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusCompleted || eng.State() != StateCompleted {
		t.Fatalf("status = %s, state = %s", res.Status, eng.State())
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	trade := res.Trades[0]
	if trade.ExitReason != ExitTakeProfit {
		t.Fatalf("exit reason = %s, want %s", trade.ExitReason, ExitTakeProfit)
	}
	if !trade.RealizedPnl.IsPositive() {
		t.Fatalf("realized pnl = %s, want positive", trade.RealizedPnl)
	}
	if res.Metrics.TotalTrades != 1 || res.Metrics.WinRate != 100 {
		t.Fatalf("metrics = %+v", res.Metrics)
	}
	if !res.FinalCapital.GreaterThan(res.InitialCapital) {
		t.Fatalf("final capital %s not above initial %s", res.FinalCapital, res.InitialCapital)
	}
}

func TestRunSellsOnOpposingSignal(t *testing.T) {
	// Entry on a dip, then a grind that never reaches take-profit or
	// stop-loss before the close breaks above both upper bands. The
	// default config must still close the position on that signal.
	closes := make([]float64, 0, 42)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 90)
	for i := 0; i < 20; i++ {
		closes = append(closes, 91)
	}
	closes = append(closes, 94)

	eng, err := New("005930", DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := eng.Run(context.Background(), makeBars("005930", closes...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	if got := res.Trades[0].ExitReason; got != ExitReverseSignal {
		t.Fatalf("exit reason = %s, want %s", got, ExitReverseSignal)
	}
}

func TestRunDeterministic(t *testing.T) {
	run := func() *BacktestResult {
		eng, err := New("005930", DefaultConfig(), nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		res, err := eng.Run(context.Background(), dipAndRecover("005930"))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res
	}

	a, b := run(), run()
	if !reflect.DeepEqual(a.EquityCurve, b.EquityCurve) {
		t.Fatal("equity curves differ between identical runs")
	}
	if !reflect.DeepEqual(a.Trades, b.Trades) {
		t.Fatal("trade ledgers differ between identical runs")
	}
	if !a.FinalCapital.Equal(b.FinalCapital) {
		t.Fatalf("final capital %s != %s", a.FinalCapital, b.FinalCapital)
	}
}

func TestRunEquityInvariant(t *testing.T) {
	eng, err := New("005930", DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := eng.Run(context.Background(), dipAndRecover("005930"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	bars := dipAndRecover("005930")
	if len(res.EquityCurve) != len(bars) {
		t.Fatalf("equity points = %d, want one per bar (%d)", len(res.EquityCurve), len(bars))
	}
	for i, p := range res.EquityCurve {
		if !p.Cash.Add(p.PositionValue).Equal(p.TotalEquity) {
			t.Fatalf("point %d: cash %s + positions %s != equity %s", i, p.Cash, p.PositionValue, p.TotalEquity)
		}
		if p.Cash.IsNegative() {
			t.Fatalf("point %d: negative cash %s", i, p.Cash)
		}
	}
}

func TestRunEmptyBars(t *testing.T) {
	eng, err := New("005930", DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if !res.FinalCapital.Equal(res.InitialCapital) {
		t.Fatalf("final capital = %s, want initial %s", res.FinalCapital, res.InitialCapital)
	}
	if len(res.EquityCurve) != 0 || len(res.Trades) != 0 {
		t.Fatal("empty run produced output")
	}
}

func TestRunCancellation(t *testing.T) {
	eng, err := New("005930", DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := eng.Run(ctx, dipAndRecover("005930"))
	if err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}
	if res.Status != StatusCancelled || eng.State() != StateCancelled {
		t.Fatalf("status = %s, state = %s", res.Status, eng.State())
	}
	if len(res.EquityCurve) != 0 {
		t.Fatalf("equity points after immediate cancel = %d, want 0", len(res.EquityCurve))
	}
}

func TestRunDataIntegrity(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]Bar)
	}{
		{"high below low", func(bars []Bar) {
			bars[5].High = decimal.NewFromInt(1)
			bars[5].Low = decimal.NewFromInt(2)
			bars[5].Open = decimal.NewFromInt(1)
			bars[5].Close = decimal.NewFromInt(1)
		}},
		{"duplicate timestamp", func(bars []Bar) {
			bars[5].Timestamp = bars[4].Timestamp
		}},
		{"negative volume", func(bars []Bar) {
			bars[5].Volume = decimal.NewFromInt(-1)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := dipAndRecover("005930")
			tt.mutate(bars)

			eng, err := New("005930", DefaultConfig(), nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = eng.Run(context.Background(), bars)
			var dataErr DataIntegrityError
			if !errors.As(err, &dataErr) {
				t.Fatalf("err = %v, want DataIntegrityError", err)
			}
			if dataErr.Index != 5 {
				t.Fatalf("index = %d, want 5", dataErr.Index)
			}
			if eng.State() != StateFailed {
				t.Fatalf("state = %s, want failed", eng.State())
			}
		})
	}
}

func TestRunSkipsUnfundableEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialCapital = decimal.NewFromInt(1_000_000)
	cfg.AllocationRatio = decimal.NewFromInt(1)

	eng, err := New("005930", cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The full-equity allocation cannot cover slippage and commission.
	closes := make([]float64, 0, 21)
	for i := 0; i < 20; i++ {
		closes = append(closes, 1000)
	}
	closes = append(closes, 900)

	res, err := eng.Run(context.Background(), makeBars("005930", closes...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.SkippedEntries != 1 {
		t.Fatalf("skipped entries = %d, want 1", res.SkippedEntries)
	}
	if len(res.Trades) != 0 {
		t.Fatalf("trades = %d, want 0", len(res.Trades))
	}
	if !res.FinalCapital.Equal(cfg.InitialCapital) {
		t.Fatalf("final capital = %s, want untouched %s", res.FinalCapital, cfg.InitialCapital)
	}
}

func TestRunBenchmark(t *testing.T) {
	bars := dipAndRecover("005930")
	bench := make([]float64, len(bars))
	for i, b := range bars {
		bench[i] = b.Close.InexactFloat64()
	}

	eng, err := New("005930", DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.SetBenchmark(bench)

	res, err := eng.Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Benchmark == nil {
		t.Fatal("benchmark block missing")
	}
	if res.Benchmark.BenchmarkReturn != 0 {
		t.Fatalf("benchmark return = %v, want 0 for a flat series", res.Benchmark.BenchmarkReturn)
	}
}

func TestRunMany(t *testing.T) {
	barsBySymbol := map[string][]Bar{
		"005930": dipAndRecover("005930"),
		"000660": dipAndRecover("000660"),
		"105560": makeBars("105560", 100, 100, 100),
	}

	results, err := RunMany(context.Background(), barsBySymbol, DefaultConfig(), 2, nil)
	if err != nil {
		t.Fatalf("RunMany: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if !results["005930"].FinalCapital.Equal(results["000660"].FinalCapital) {
		t.Fatal("identical inputs produced different outcomes")
	}
	if got := results["105560"]; len(got.Trades) != 0 || !got.FinalCapital.Equal(got.InitialCapital) {
		t.Fatalf("short series result = %+v", got)
	}
}

func TestRunManyPropagatesFailure(t *testing.T) {
	bad := dipAndRecover("005930")
	bad[3].Timestamp = bad[2].Timestamp

	results, err := RunMany(context.Background(), map[string][]Bar{
		"005930": bad,
		"000660": dipAndRecover("000660"),
	}, DefaultConfig(), 2, nil)

	var dataErr DataIntegrityError
	if !errors.As(err, &dataErr) {
		t.Fatalf("err = %v, want DataIntegrityError", err)
	}
	if _, ok := results["005930"]; ok {
		t.Fatal("failed run present in results")
	}
	if _, ok := results["000660"]; !ok {
		t.Fatal("healthy run missing from results")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllocationRatio = decimal.NewFromInt(2)

	_, err := New("005930", cfg, nil)
	var cfgErr ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if cfgErr.Field != "allocation_ratio" {
		t.Fatalf("field = %s, want allocation_ratio", cfgErr.Field)
	}
}
