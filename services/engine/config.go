package engine

import (
	"github.com/shopspring/decimal"
)

// Config holds every parameter of a run. It is validated once by Validate
// and never mutated afterwards; the engine reads no ambient state.
//
// Risk parameters use the zero value as "disabled": a StopLossRatio of 0
// means no stop-loss, a MaxHoldingDays of 0 means no time exit, and so on.
type Config struct {
	InitialCapital decimal.Decimal `json:"initial_capital"`

	// Signal parameters.
	BollingerPeriod  int     `json:"bollinger_period"`
	BollingerStdMult float64 `json:"bollinger_std_mult"`
	EnvelopePeriod   int     `json:"envelope_period"`
	EnvelopePercent  float64 `json:"envelope_percent"`
	StrictSignals    bool    `json:"strict_signals"`

	// Risk parameters. StopLossRatio is negative (-0.03 = cut at -3%),
	// TakeProfitRatio and TrailingStopRatio are positive.
	StopLossRatio     decimal.Decimal `json:"stop_loss_ratio"`
	TakeProfitRatio   decimal.Decimal `json:"take_profit_ratio"`
	TrailingStopRatio decimal.Decimal `json:"trailing_stop_ratio"`
	MaxHoldingDays    int             `json:"max_holding_days"`
	MomentumExitBars  int             `json:"momentum_exit_bars"`
	ReverseSignalExit bool            `json:"reverse_signal_exit"`

	// Position sizing.
	AllocationRatio  decimal.Decimal `json:"allocation_ratio"`
	MaxPositionCount int             `json:"max_position_count"`

	// Cost model. Tax applies to disposals only.
	CommissionRate decimal.Decimal `json:"commission_rate"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	SlippageRate   decimal.Decimal `json:"slippage_rate"`

	// Annualized risk-free rate in percent, used by the ratio metrics.
	RiskFreeRate float64 `json:"risk_free_rate"`
}

// DefaultConfig mirrors the KRX-oriented defaults of the original service:
// 10M KRW capital, 0.015% commission, 0.23% disposal tax, 0.05% slippage.
func DefaultConfig() Config {
	return Config{
		InitialCapital:    decimal.NewFromInt(10_000_000),
		BollingerPeriod:   20,
		BollingerStdMult:  2.0,
		EnvelopePeriod:    20,
		EnvelopePercent:   2.0,
		StrictSignals:     true,
		ReverseSignalExit: true,
		StopLossRatio:     decimal.NewFromFloat(-0.03),
		TakeProfitRatio:   decimal.NewFromFloat(0.05),
		AllocationRatio:   decimal.NewFromFloat(0.2),
		MaxPositionCount:  5,
		CommissionRate:    decimal.NewFromFloat(0.00015),
		TaxRate:           decimal.NewFromFloat(0.0023),
		SlippageRate:      decimal.NewFromFloat(0.0005),
		RiskFreeRate:      3.0,
	}
}

// LookbackBars is the longest indicator warm-up window.
func (c *Config) LookbackBars() int {
	if c.BollingerPeriod > c.EnvelopePeriod {
		return c.BollingerPeriod
	}
	return c.EnvelopePeriod
}

var one = decimal.NewFromInt(1)

// Validate rejects out-of-range parameters before any bar is processed.
func (c *Config) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return ConfigError{Field: "initial_capital", Reason: "must be positive"}
	}
	if c.BollingerPeriod < 2 {
		return ConfigError{Field: "bollinger_period", Reason: "must be at least 2"}
	}
	if c.BollingerStdMult <= 0 {
		return ConfigError{Field: "bollinger_std_mult", Reason: "must be positive"}
	}
	if c.EnvelopePeriod < 2 {
		return ConfigError{Field: "envelope_period", Reason: "must be at least 2"}
	}
	if c.EnvelopePercent <= 0 {
		return ConfigError{Field: "envelope_percent", Reason: "must be positive"}
	}
	if c.StopLossRatio.IsPositive() {
		return ConfigError{Field: "stop_loss_ratio", Reason: "must be negative or zero"}
	}
	if c.TakeProfitRatio.IsNegative() {
		return ConfigError{Field: "take_profit_ratio", Reason: "must be positive or zero"}
	}
	if c.TrailingStopRatio.IsNegative() {
		return ConfigError{Field: "trailing_stop_ratio", Reason: "must be positive or zero"}
	}
	if c.MaxHoldingDays < 0 {
		return ConfigError{Field: "max_holding_days", Reason: "must not be negative"}
	}
	if c.MomentumExitBars < 0 {
		return ConfigError{Field: "momentum_exit_bars", Reason: "must not be negative"}
	}
	if !c.AllocationRatio.IsPositive() || c.AllocationRatio.GreaterThan(one) {
		return ConfigError{Field: "allocation_ratio", Reason: "must be in (0, 1]"}
	}
	if c.MaxPositionCount < 1 {
		return ConfigError{Field: "max_position_count", Reason: "must be at least 1"}
	}
	for _, rate := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"commission_rate", c.CommissionRate},
		{"tax_rate", c.TaxRate},
		{"slippage_rate", c.SlippageRate},
	} {
		if rate.value.IsNegative() || rate.value.GreaterThanOrEqual(one) {
			return ConfigError{Field: rate.name, Reason: "must be in [0, 1)"}
		}
	}
	if c.RiskFreeRate < 0 {
		return ConfigError{Field: "risk_free_rate", Reason: "must not be negative"}
	}
	return nil
}
