package engine

import (
	"encoding/json"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Run status values.
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// BacktestResult is the aggregate output of one run: the equity curve, the
// trade ledger, and the computed metrics. It is plain data with no
// references back into engine internals and is safe to serialize as-is.
type BacktestResult struct {
	RunID          string             `json:"run_id"`
	Symbol         string             `json:"symbol"`
	Status         string             `json:"status"`
	StartDate      time.Time          `json:"start_date"`
	EndDate        time.Time          `json:"end_date"`
	InitialCapital decimal.Decimal    `json:"initial_capital"`
	FinalCapital   decimal.Decimal    `json:"final_capital"`
	EquityCurve    []EquityPoint      `json:"equity_curve"`
	Trades         []Trade            `json:"trades"`
	DailyStats     []DailyStat        `json:"daily_stats"`
	SkippedEntries int                `json:"skipped_entries"`
	Metrics        Metrics            `json:"metrics"`
	Benchmark      *BenchmarkMetrics  `json:"benchmark,omitempty"`
}

// Metrics is the §return/risk/trade-quality block computed from the equity
// curve and trade ledger. Percent-valued fields carry percent units.
type Metrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	CAGR             float64 `json:"cagr"`

	MaxDrawdown    float64 `json:"max_drawdown"`
	MddPeakIndex   int     `json:"mdd_peak_index"`
	MddTroughIndex int     `json:"mdd_trough_index"`
	Volatility     float64 `json:"volatility"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	CalmarRatio    float64 `json:"calmar_ratio"`
	VaR95          float64 `json:"var_95"`

	TotalTrades          int     `json:"total_trades"`
	WinningTrades        int     `json:"winning_trades"`
	LosingTrades         int     `json:"losing_trades"`
	BreakevenTrades      int     `json:"breakeven_trades"`
	WinRate              float64 `json:"win_rate"`
	ProfitFactor         float64 `json:"profit_factor"`
	AvgWin               float64 `json:"avg_win"`
	AvgLoss              float64 `json:"avg_loss"`
	AvgWinLossRatio      float64 `json:"avg_win_loss_ratio"`
	AvgHoldingDays       float64 `json:"avg_holding_days"`
	MaxHoldingDays       int     `json:"max_holding_days"`
	MinHoldingDays       int     `json:"min_holding_days"`
	MaxConsecutiveWins   int     `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
}

// MarshalJSON renders the +Inf profit-factor sentinel as a string, which
// encoding/json would otherwise reject.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	out := struct {
		alias
		ProfitFactor any `json:"profit_factor"`
	}{alias: alias(m), ProfitFactor: m.ProfitFactor}
	if math.IsInf(m.ProfitFactor, 1) {
		out.ProfitFactor = "inf"
	}
	return json.Marshal(out)
}

// BenchmarkMetrics is the optional comparison block against a benchmark
// close series aligned to the run's bars.
type BenchmarkMetrics struct {
	BenchmarkReturn  float64 `json:"benchmark_return"`
	Beta             float64 `json:"beta"`
	Alpha            float64 `json:"alpha"`
	TrackingError    float64 `json:"tracking_error"`
	InformationRatio float64 `json:"information_ratio"`
}
