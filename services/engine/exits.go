package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitEvaluator checks an open position against the exit rules in a fixed
// priority order. The first match wins and only one reason is recorded per
// position per bar; a bar that breaches both stop-loss and take-profit
// (possible only with misconfigured thresholds) always reports stop-loss,
// the conservative choice.
type ExitEvaluator struct {
	cfg *Config
}

func NewExitEvaluator(cfg *Config) *ExitEvaluator {
	return &ExitEvaluator{cfg: cfg}
}

// Evaluate returns the exit reason for the position at the current close,
// or false when the position should be held. The highest-seen price is
// updated before any check so the trailing stop measures against a peak
// that includes the current bar.
func (e *ExitEvaluator) Evaluate(pos *Position, price decimal.Decimal, date time.Time, sig Signal, closes []float64) (ExitReason, bool) {
	if price.GreaterThan(pos.HighestPrice) {
		pos.HighestPrice = price
	}

	ret := pos.UnrealizedReturn(price)

	if e.cfg.StopLossRatio.IsNegative() && ret.LessThanOrEqual(e.cfg.StopLossRatio) {
		return ExitStopLoss, true
	}
	if e.cfg.TakeProfitRatio.IsPositive() && ret.GreaterThanOrEqual(e.cfg.TakeProfitRatio) {
		return ExitTakeProfit, true
	}
	if e.cfg.TrailingStopRatio.IsPositive() && pos.HighestPrice.IsPositive() {
		decline := price.Sub(pos.HighestPrice).Div(pos.HighestPrice)
		if decline.LessThanOrEqual(e.cfg.TrailingStopRatio.Neg()) {
			return ExitTrailingStop, true
		}
	}
	if e.cfg.MaxHoldingDays > 0 && pos.HoldingDays(date) >= e.cfg.MaxHoldingDays {
		return ExitTime, true
	}
	if e.momentumFaded(ret, closes) {
		return ExitMomentum, true
	}
	if e.cfg.ReverseSignalExit && sig == SignalSell {
		return ExitReverseSignal, true
	}
	return "", false
}

// momentumFaded is the optional momentum exit: the last MomentumExitBars
// closes never rose while the position is under water.
func (e *ExitEvaluator) momentumFaded(ret decimal.Decimal, closes []float64) bool {
	n := e.cfg.MomentumExitBars
	if n <= 0 || len(closes) < n+1 || !ret.IsNegative() {
		return false
	}
	recent := closes[len(closes)-n-1:]
	for i := 1; i < len(recent); i++ {
		if recent[i] > recent[i-1] {
			return false
		}
	}
	return true
}
