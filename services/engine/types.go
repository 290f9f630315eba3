package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a single daily OHLCV bar for one symbol.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Signal is the directional output of the signal generator.
type Signal int

const (
	SignalHold Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "hold"
	}
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStopLoss      ExitReason = "stop_loss"
	ExitTakeProfit    ExitReason = "take_profit"
	ExitTrailingStop  ExitReason = "trailing_stop"
	ExitTime          ExitReason = "time_exit"
	ExitMomentum      ExitReason = "momentum_exit"
	ExitReverseSignal ExitReason = "reverse_signal"
)

// Position is one open long holding. HighestPrice tracks the best close
// seen since entry and drives the trailing stop.
type Position struct {
	Symbol          string          `json:"symbol"`
	Quantity        int64           `json:"quantity"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	EntryDate       time.Time       `json:"entry_date"`
	HighestPrice    decimal.Decimal `json:"highest_price"`
	EntryCommission decimal.Decimal `json:"entry_commission"`
}

// UnrealizedReturn is (price - entry) / entry.
func (p *Position) UnrealizedReturn(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice)
}

// HoldingDays is the calendar span between entry and the given date.
func (p *Position) HoldingDays(date time.Time) int {
	return int(date.Sub(p.EntryDate).Hours() / 24)
}

// Trade is the immutable record of a closed round trip.
type Trade struct {
	Symbol      string          `json:"symbol"`
	EntryDate   time.Time       `json:"entry_date"`
	ExitDate    time.Time       `json:"exit_date"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	Quantity    int64           `json:"quantity"`
	Commission  decimal.Decimal `json:"commission"` // both sides
	Tax         decimal.Decimal `json:"tax"`
	RealizedPnl decimal.Decimal `json:"realized_pnl"`
	ProfitRate  float64         `json:"profit_rate"` // percent of entry cost
	HoldingDays int             `json:"holding_days"`
	ExitReason  ExitReason      `json:"exit_reason"`
}

// EquityPoint is appended exactly once per processed bar.
// Invariant: TotalEquity = Cash + PositionValue.
type EquityPoint struct {
	Date          time.Time       `json:"date"`
	Cash          decimal.Decimal `json:"cash"`
	PositionValue decimal.Decimal `json:"position_value"`
	TotalEquity   decimal.Decimal `json:"total_equity"`
}

// DailyStat carries per-bar diagnostics. It has no bearing on correctness;
// the equity curve and trade ledger are the authoritative outputs.
type DailyStat struct {
	Date             time.Time `json:"date"`
	DailyReturn      float64   `json:"daily_return"`
	CumulativeReturn float64   `json:"cumulative_return"`
	Drawdown         float64   `json:"drawdown"`
	Signal           string    `json:"signal"`
	SignalStrength   float64   `json:"signal_strength"`
	BollingerUpper   float64   `json:"bollinger_upper"`
	BollingerLower   float64   `json:"bollinger_lower"`
	EnvelopeUpper    float64   `json:"envelope_upper"`
	EnvelopeLower    float64   `json:"envelope_lower"`
}
