package proto

import "context"

type RunBacktestRequest struct {
	Symbols            []string   `json:"symbols"`
	InitialCapital     string     `json:"initial_capital"`
	BollingerPeriod    int32      `json:"bollinger_period"`
	BollingerStdMult   float64    `json:"bollinger_std_mult"`
	EnvelopePeriod     int32      `json:"envelope_period"`
	EnvelopePercent    float64    `json:"envelope_percent"`
	SignalMode         SignalMode `json:"signal_mode"`
	StopLossRatio      string     `json:"stop_loss_ratio"`
	TakeProfitRatio    string     `json:"take_profit_ratio"`
	TrailingStopRatio  string     `json:"trailing_stop_ratio"`
	MaxHoldingDays     int32      `json:"max_holding_days"`
	MomentumExitBars   int32      `json:"momentum_exit_bars"`
	DisableReverseExit bool       `json:"disable_reverse_exit"`
	AllocationRatio    string     `json:"allocation_ratio"`
	MaxPositionCount   int32      `json:"max_position_count"`
	CommissionRate     string     `json:"commission_rate"`
	TaxRate            string     `json:"tax_rate"`
	SlippageRate       string     `json:"slippage_rate"`
	RiskFreeRate       float64    `json:"risk_free_rate"`
}

type SignalMode int32

const (
	SignalMode_STRICT SignalMode = 0
	SignalMode_LOOSE  SignalMode = 1
)

type ClosedTrade struct {
	Symbol      string
	EntryDate   int64
	ExitDate    int64
	EntryPrice  string
	ExitPrice   string
	Quantity    int64
	Commission  string
	Tax         string
	RealizedPnl string
	ExitReason  string
}

type EquityPoint struct {
	Date          int64
	Cash          string
	PositionValue string
	TotalEquity   string
}

type RunMetrics struct {
	TotalReturn      float64
	AnnualizedReturn float64
	MaxDrawdown      float64
	Volatility       float64
	SharpeRatio      float64
	SortinoRatio     float64
	CalmarRatio      float64
	WinRate          float64
	ProfitFactor     string
	TotalTrades      int32
}

type SymbolResult struct {
	RunId          string
	Symbol         string
	Status         string
	FinalCapital   string
	SkippedEntries int32
	Trades         []*ClosedTrade
	EquityCurve    []*EquityPoint
	Metrics        *RunMetrics
}

type RunBacktestResponse struct {
	JobId           string
	ExecutionTimeMs int64
	Results         []*SymbolResult
}

// gRPC server interface stub

type UnimplementedBacktestServiceServer struct{}

func RegisterBacktestServiceServer(_ any, _ BacktestServiceServer) {}

type BacktestServiceServer interface {
	RunBacktest(context.Context, *RunBacktestRequest) (*RunBacktestResponse, error)
}
