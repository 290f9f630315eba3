package engine

import (
	"math"
	"sort"
)

// PerformanceAggregator turns a completed equity curve and trade ledger
// into the metric block. Every degenerate denominator resolves to a
// defined neutral value so a batch sweep never dies on an edge-case run.
type PerformanceAggregator struct {
	riskFreeRate float64 // annualized, percent
}

func NewPerformanceAggregator(riskFreeRate float64) *PerformanceAggregator {
	return &PerformanceAggregator{riskFreeRate: riskFreeRate}
}

const tradingDaysPerYear = 252

// Compute derives all return, risk, and trade-quality metrics.
func (a *PerformanceAggregator) Compute(equity []EquityPoint, trades []Trade) Metrics {
	var m Metrics
	if len(equity) == 0 {
		a.tradeStats(&m, trades)
		return m
	}

	initial := equity[0].TotalEquity.InexactFloat64()
	final := equity[len(equity)-1].TotalEquity.InexactFloat64()

	if initial != 0 {
		m.TotalReturn = (final - initial) / initial * 100
	}

	days := equity[len(equity)-1].Date.Sub(equity[0].Date).Hours() / 24
	if days > 0 && initial > 0 {
		m.AnnualizedReturn = (math.Pow(final/initial, 365/days) - 1) * 100
		years := days / 365
		m.CAGR = (math.Pow(final/initial, 1/years) - 1) * 100
	}

	m.MaxDrawdown, m.MddPeakIndex, m.MddTroughIndex = maxDrawdown(equity)

	returns := dailyReturns(equity)
	m.Volatility = sampleStd(returns) * math.Sqrt(tradingDaysPerYear) * 100

	if m.Volatility != 0 {
		m.SharpeRatio = (m.AnnualizedReturn - a.riskFreeRate) / m.Volatility
	}
	if downside := downsideVolatility(returns); downside != 0 {
		m.SortinoRatio = (m.AnnualizedReturn - a.riskFreeRate) / downside
	}
	if m.MaxDrawdown < 0 {
		m.CalmarRatio = m.AnnualizedReturn / math.Abs(m.MaxDrawdown)
	}
	if len(returns) > 0 {
		m.VaR95 = percentile(returns, 0.05) * 100
	}

	a.tradeStats(&m, trades)
	return m
}

// CompareBenchmark computes the relative block against a benchmark close
// series aligned index-for-index with the equity curve.
func (a *PerformanceAggregator) CompareBenchmark(equity []EquityPoint, benchmark []float64) *BenchmarkMetrics {
	if len(benchmark) < 2 || len(benchmark) != len(equity) || benchmark[0] == 0 {
		return nil
	}

	strategyReturns := dailyReturns(equity)
	benchReturns := make([]float64, 0, len(benchmark)-1)
	for i := 1; i < len(benchmark); i++ {
		if benchmark[i-1] == 0 {
			benchReturns = append(benchReturns, 0)
			continue
		}
		benchReturns = append(benchReturns, (benchmark[i]-benchmark[i-1])/benchmark[i-1])
	}

	initial := equity[0].TotalEquity.InexactFloat64()
	final := equity[len(equity)-1].TotalEquity.InexactFloat64()
	strategyReturn := 0.0
	if initial != 0 {
		strategyReturn = (final - initial) / initial * 100
	}
	benchmarkReturn := (benchmark[len(benchmark)-1] - benchmark[0]) / benchmark[0] * 100

	bm := &BenchmarkMetrics{BenchmarkReturn: benchmarkReturn}

	if v := sampleVariance(benchReturns); v != 0 {
		bm.Beta = sampleCovariance(strategyReturns, benchReturns) / v
	}
	bm.Alpha = strategyReturn - (a.riskFreeRate + bm.Beta*(benchmarkReturn-a.riskFreeRate))

	excess := make([]float64, len(strategyReturns))
	for i := range strategyReturns {
		excess[i] = strategyReturns[i] - benchReturns[i]
	}
	bm.TrackingError = sampleStd(excess) * math.Sqrt(tradingDaysPerYear) * 100
	if bm.TrackingError != 0 {
		bm.InformationRatio = (strategyReturn - benchmarkReturn) / bm.TrackingError
	}
	return bm
}

func (a *PerformanceAggregator) tradeStats(m *Metrics, trades []Trade) {
	m.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	var grossProfit, grossLoss float64
	var totalHolding int
	m.MinHoldingDays = trades[0].HoldingDays

	// Streak scan: zero-pnl trades are neither wins nor losses and do not
	// break a streak.
	var curWins, curLosses int

	for _, t := range trades {
		pnl := t.RealizedPnl.InexactFloat64()
		switch {
		case pnl > 0:
			m.WinningTrades++
			grossProfit += pnl
			curWins++
			curLosses = 0
			if curWins > m.MaxConsecutiveWins {
				m.MaxConsecutiveWins = curWins
			}
		case pnl < 0:
			m.LosingTrades++
			grossLoss += pnl
			curLosses++
			curWins = 0
			if curLosses > m.MaxConsecutiveLosses {
				m.MaxConsecutiveLosses = curLosses
			}
		default:
			m.BreakevenTrades++
		}

		totalHolding += t.HoldingDays
		if t.HoldingDays > m.MaxHoldingDays {
			m.MaxHoldingDays = t.HoldingDays
		}
		if t.HoldingDays < m.MinHoldingDays {
			m.MinHoldingDays = t.HoldingDays
		}
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	m.AvgHoldingDays = float64(totalHolding) / float64(m.TotalTrades)

	switch {
	case grossLoss == 0 && grossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	case grossLoss != 0:
		m.ProfitFactor = grossProfit / math.Abs(grossLoss)
	}

	if m.WinningTrades > 0 {
		m.AvgWin = grossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
	}
	if m.AvgLoss != 0 {
		m.AvgWinLossRatio = math.Abs(m.AvgWin / m.AvgLoss)
	}
}

// dailyReturns is the day-over-day fractional change of total equity.
func dailyReturns(equity []EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].TotalEquity.InexactFloat64()
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		cur := equity[i].TotalEquity.InexactFloat64()
		returns = append(returns, (cur-prev)/prev)
	}
	return returns
}

// maxDrawdown returns the most negative peak-to-trough decline in percent
// with the indexes of the peak and the trough.
func maxDrawdown(equity []EquityPoint) (mdd float64, peak, trough int) {
	if len(equity) == 0 {
		return 0, 0, 0
	}
	cummax := equity[0].TotalEquity.InexactFloat64()
	for i, p := range equity {
		v := p.TotalEquity.InexactFloat64()
		if v > cummax {
			cummax = v
		}
		if cummax == 0 {
			continue
		}
		dd := (v - cummax) / cummax * 100
		if dd < mdd {
			mdd = dd
			trough = i
		}
	}
	best := math.Inf(-1)
	for i := 0; i <= trough; i++ {
		if v := equity[i].TotalEquity.InexactFloat64(); v > best {
			best = v
			peak = i
		}
	}
	return mdd, peak, trough
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStd is the n-1 standard deviation; 0 below two samples.
func sampleStd(values []float64) float64 {
	return math.Sqrt(sampleVariance(values))
}

func sampleVariance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values)-1)
}

func sampleCovariance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	ma, mb := mean(a[:n]), mean(b[:n])
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += (a[i] - ma) * (b[i] - mb)
	}
	return sum / float64(n-1)
}

// downsideVolatility annualizes the sample std-dev of negative returns.
func downsideVolatility(returns []float64) float64 {
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	return sampleStd(negative) * math.Sqrt(tradingDaysPerYear) * 100
}

// percentile linearly interpolates like a dataframe quantile.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
