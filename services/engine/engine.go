package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// State is the lifecycle of one Engine. An Engine runs exactly once.
type State string

const (
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Engine replays one symbol's daily bars through the strategy. Given the
// same bars and config, two runs produce byte-identical results: nothing
// in the run path reads the clock, the map iteration order, or any other
// ambient state.
type Engine struct {
	symbol string
	cfg    Config
	log    *zap.Logger

	runID      string
	state      State
	signals    *SignalGenerator
	exits      *ExitEvaluator
	orders     *OrderExecutor
	book       *PositionBook
	aggregator *PerformanceAggregator

	benchmark []float64
}

// New validates the config and assembles an engine for one symbol.
func New(symbol string, cfg Config, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		symbol:     symbol,
		cfg:        cfg,
		log:        log,
		runID:      uuid.NewString(),
		state:      StateInitialized,
		signals:    NewSignalGenerator(&cfg),
		exits:      NewExitEvaluator(&cfg),
		orders:     NewOrderExecutor(&cfg),
		book:       NewPositionBook(&cfg),
		aggregator: NewPerformanceAggregator(cfg.RiskFreeRate),
	}
	return e, nil
}

// RunID identifies this run in logs and persisted rows.
func (e *Engine) RunID() string { return e.runID }

// State reports the current lifecycle state.
func (e *Engine) State() State { return e.state }

// SetBenchmark attaches a benchmark close series aligned index-for-index
// with the bars that will be passed to Run. The result then carries the
// relative metrics block.
func (e *Engine) SetBenchmark(closes []float64) {
	e.benchmark = closes
}

// Run replays the bars in order and returns the result. Cancellation via
// ctx is cooperative: the loop stops between bars and the partial result
// is returned with status cancelled and a nil error. Data integrity
// violations fail the run.
func (e *Engine) Run(ctx context.Context, bars []Bar) (*BacktestResult, error) {
	e.state = StateRunning
	e.log.Info("backtest started",
		zap.String("run_id", e.runID),
		zap.String("symbol", e.symbol),
		zap.Int("bars", len(bars)),
	)

	st := &runState{
		cash:   e.cfg.InitialCapital,
		closes: make([]float64, 0, len(bars)),
		equity: make([]EquityPoint, 0, len(bars)),
		daily:  make([]DailyStat, 0, len(bars)),
	}

	for i, bar := range bars {
		select {
		case <-ctx.Done():
			e.state = StateCancelled
			e.log.Warn("backtest cancelled",
				zap.String("run_id", e.runID),
				zap.Int("bars_processed", i),
			)
			return e.finalize(bars[:i], st, StatusCancelled), nil
		default:
		}

		if err := e.checkBar(bar, i, st); err != nil {
			e.state = StateFailed
			e.log.Error("backtest failed", zap.String("run_id", e.runID), zap.Error(err))
			return nil, err
		}

		e.processBar(bar, st)
	}

	e.state = StateCompleted
	result := e.finalize(bars, st, StatusCompleted)
	e.log.Info("backtest completed",
		zap.String("run_id", e.runID),
		zap.String("symbol", e.symbol),
		zap.Int("trades", len(result.Trades)),
		zap.Float64("total_return", result.Metrics.TotalReturn),
	)
	return result, nil
}

// runState is the mutable ledger of one replay.
type runState struct {
	cash    decimal.Decimal
	closes  []float64
	equity  []EquityPoint
	daily   []DailyStat
	trades  []Trade
	skipped int
	peak    float64 // running equity peak for the daily drawdown stat
	prevTS  int64   // unix nanos of the previous bar
}

// checkBar rejects bars that violate OHLC ordering or timestamp order.
func (e *Engine) checkBar(bar Bar, i int, st *runState) error {
	fail := func(reason string) error {
		return DataIntegrityError{Symbol: e.symbol, Index: i, Timestamp: bar.Timestamp, Reason: reason}
	}
	ts := bar.Timestamp.UnixNano()
	if i > 0 && ts <= st.prevTS {
		return fail("timestamp not strictly ascending")
	}
	st.prevTS = ts

	if bar.High.LessThan(bar.Low) {
		return fail("high below low")
	}
	if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) {
		return fail("high below open or close")
	}
	if bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) {
		return fail("low above open or close")
	}
	if !bar.Close.IsPositive() {
		return fail("non-positive close")
	}
	if bar.Volume.IsNegative() {
		return fail("negative volume")
	}
	return nil
}

// processBar runs one bar through the fixed per-bar order: mark to market,
// exits, entries, then the equity snapshot.
func (e *Engine) processBar(bar Bar, st *runState) {
	st.closes = append(st.closes, bar.Close.InexactFloat64())
	prices := map[string]decimal.Decimal{e.symbol: bar.Close}

	// Sizing uses the bar's opening equity so an exit on the same bar
	// cannot inflate the entry.
	baseline := st.cash.Add(e.book.MarkToMarket(prices))

	sig := e.signals.Evaluate(st.closes)

	if pos := e.book.Get(e.symbol); pos != nil {
		if reason, exit := e.exits.Evaluate(pos, bar.Close, bar.Timestamp, sig.Signal, st.closes); exit {
			pos = e.book.Close(e.symbol)
			trade, proceeds := e.orders.ExecuteSell(pos, bar.Close, bar.Timestamp, reason)
			st.cash = st.cash.Add(proceeds)
			st.trades = append(st.trades, trade)
			e.log.Debug("position closed",
				zap.String("run_id", e.runID),
				zap.String("symbol", e.symbol),
				zap.String("reason", string(reason)),
				zap.String("pnl", trade.RealizedPnl.String()),
			)
		}
	}

	if sig.Signal == SignalBuy {
		if qty := e.book.SizeEntry(e.symbol, bar.Close, baseline); qty > 0 {
			fill, err := e.orders.ExecuteBuy(e.symbol, bar.Close, qty, st.cash)
			switch {
			case errors.Is(err, ErrInsufficientFunds):
				st.skipped++
				e.log.Debug("entry skipped",
					zap.String("run_id", e.runID),
					zap.String("symbol", e.symbol),
					zap.Int64("quantity", qty),
					zap.String("cash", st.cash.String()),
				)
			case err == nil:
				st.cash = st.cash.Sub(fill.TotalCost)
				e.book.Open(e.symbol, fill.Quantity, fill.Price, bar.Timestamp, fill.Commission)
				e.log.Debug("position opened",
					zap.String("run_id", e.runID),
					zap.String("symbol", e.symbol),
					zap.Int64("quantity", fill.Quantity),
					zap.String("fill_price", fill.Price.String()),
				)
			}
		}
	}

	positionValue := e.book.MarkToMarket(prices)
	total := st.cash.Add(positionValue)
	st.equity = append(st.equity, EquityPoint{
		Date:          bar.Timestamp,
		Cash:          st.cash,
		PositionValue: positionValue,
		TotalEquity:   total,
	})
	st.daily = append(st.daily, e.dailyStat(bar, st, sig, total))
}

func (e *Engine) dailyStat(bar Bar, st *runState, sig SignalResult, total decimal.Decimal) DailyStat {
	equity := total.InexactFloat64()
	stat := DailyStat{
		Date:           bar.Timestamp,
		Signal:         sig.Signal.String(),
		SignalStrength: sig.Strength,
		BollingerUpper: sig.Bollinger.Upper,
		BollingerLower: sig.Bollinger.Lower,
		EnvelopeUpper:  sig.Envelope.Upper,
		EnvelopeLower:  sig.Envelope.Lower,
	}
	if n := len(st.equity); n > 1 {
		if prev := st.equity[n-2].TotalEquity.InexactFloat64(); prev != 0 {
			stat.DailyReturn = (equity - prev) / prev * 100
		}
	}
	if initial := e.cfg.InitialCapital.InexactFloat64(); initial != 0 {
		stat.CumulativeReturn = (equity - initial) / initial * 100
	}
	if equity > st.peak {
		st.peak = equity
	}
	if st.peak != 0 {
		stat.Drawdown = (equity - st.peak) / st.peak * 100
	}
	return stat
}

func (e *Engine) finalize(bars []Bar, st *runState, status string) *BacktestResult {
	result := &BacktestResult{
		RunID:          e.runID,
		Symbol:         e.symbol,
		Status:         status,
		InitialCapital: e.cfg.InitialCapital,
		FinalCapital:   e.cfg.InitialCapital,
		EquityCurve:    st.equity,
		Trades:         st.trades,
		DailyStats:     st.daily,
		SkippedEntries: st.skipped,
	}
	if len(bars) > 0 {
		result.StartDate = bars[0].Timestamp
		result.EndDate = bars[len(bars)-1].Timestamp
	}
	if len(st.equity) > 0 {
		result.FinalCapital = st.equity[len(st.equity)-1].TotalEquity
	}
	result.Metrics = e.aggregator.Compute(st.equity, st.trades)
	if e.benchmark != nil {
		result.Benchmark = e.aggregator.CompareBenchmark(st.equity, e.benchmark[:min(len(e.benchmark), len(st.equity))])
	}
	return result
}

// RunMany replays several symbols concurrently, each on its own engine.
// Results are keyed by symbol; failed runs are absent from the map and
// their errors joined. Cancellation drains the remaining work.
func RunMany(ctx context.Context, barsBySymbol map[string][]Bar, cfg Config, workers int, log *zap.Logger) (map[string]*BacktestResult, error) {
	if workers < 1 {
		workers = 1
	}

	symbols := make([]string, 0, len(barsBySymbol))
	for s := range barsBySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]*BacktestResult, len(symbols))
		errs    []error
	)

	jobs := make(chan string)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				eng, err := New(symbol, cfg, log)
				if err == nil {
					var res *BacktestResult
					res, err = eng.Run(ctx, barsBySymbol[symbol])
					if err == nil {
						mu.Lock()
						results[symbol] = res
						mu.Unlock()
						continue
					}
				}
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}

	for _, symbol := range symbols {
		jobs <- symbol
	}
	close(jobs)
	wg.Wait()

	return results, errors.Join(errs...)
}
