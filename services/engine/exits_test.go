package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func exitConfig() Config {
	cfg := DefaultConfig()
	cfg.StopLossRatio = decimal.RequireFromString("-0.03")
	cfg.TakeProfitRatio = decimal.RequireFromString("0.05")
	cfg.TrailingStopRatio = decimal.RequireFromString("0.05")
	cfg.MaxHoldingDays = 10
	cfg.MomentumExitBars = 3
	cfg.ReverseSignalExit = true
	return cfg
}

func openPosition(entry, highest string, daysAgo int, now time.Time) *Position {
	return &Position{
		Symbol:       "005930",
		Quantity:     10,
		EntryPrice:   decimal.RequireFromString(entry),
		EntryDate:    now.AddDate(0, 0, -daysAgo),
		HighestPrice: decimal.RequireFromString(highest),
	}
}

func TestExitPriority(t *testing.T) {
	cfg := exitConfig()
	ev := NewExitEvaluator(&cfg)
	now := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	rising := []float64{100, 101, 102, 103, 104}

	tests := []struct {
		name    string
		pos     *Position
		price   string
		sig     Signal
		closes  []float64
		want    ExitReason
		wantHit bool
	}{
		{
			name: "stop loss at -4%", pos: openPosition("100", "100", 2, now),
			price: "96", sig: SignalHold, closes: rising,
			want: ExitStopLoss, wantHit: true,
		},
		{
			name: "take profit at +6%", pos: openPosition("100", "100", 2, now),
			price: "106", sig: SignalHold, closes: rising,
			want: ExitTakeProfit, wantHit: true,
		},
		{
			name: "trailing stop from the peak", pos: openPosition("100", "110", 2, now),
			price: "104", sig: SignalHold, closes: rising,
			want: ExitTrailingStop, wantHit: true,
		},
		{
			name: "time exit after max holding days", pos: openPosition("100", "100", 20, now),
			price: "100", sig: SignalHold, closes: rising,
			want: ExitTime, wantHit: true,
		},
		{
			name: "momentum exit under water", pos: openPosition("100", "100", 2, now),
			price: "99", sig: SignalHold, closes: []float64{102, 101, 100, 99},
			want: ExitMomentum, wantHit: true,
		},
		{
			name: "reverse signal", pos: openPosition("100", "100", 2, now),
			price: "100", sig: SignalSell, closes: rising,
			want: ExitReverseSignal, wantHit: true,
		},
		{
			name: "stop loss wins over trailing stop", pos: openPosition("100", "110", 2, now),
			price: "96", sig: SignalSell, closes: rising,
			want: ExitStopLoss, wantHit: true,
		},
		{
			name: "hold when nothing triggers", pos: openPosition("100", "100", 2, now),
			price: "101", sig: SignalHold, closes: rising,
			wantHit: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, hit := ev.Evaluate(tt.pos, decimal.RequireFromString(tt.price), now, tt.sig, tt.closes)
			if hit != tt.wantHit {
				t.Fatalf("hit = %v, want %v", hit, tt.wantHit)
			}
			if hit && reason != tt.want {
				t.Fatalf("reason = %s, want %s", reason, tt.want)
			}
		})
	}
}

func TestEvaluateBumpsHighestPrice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TakeProfitRatio = decimal.Zero
	ev := NewExitEvaluator(&cfg)
	now := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	pos := openPosition("100", "100", 1, now)
	if _, hit := ev.Evaluate(pos, decimal.NewFromInt(108), now, SignalHold, nil); hit {
		t.Fatal("unexpected exit")
	}
	if want := decimal.NewFromInt(108); !pos.HighestPrice.Equal(want) {
		t.Fatalf("highest price = %s, want %s", pos.HighestPrice, want)
	}
}

func TestMomentumExitRequiresLoss(t *testing.T) {
	cfg := exitConfig()
	cfg.ReverseSignalExit = false
	cfg.MaxHoldingDays = 0
	ev := NewExitEvaluator(&cfg)
	now := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	// Flat closes but the position is in profit: hold.
	pos := openPosition("100", "104", 2, now)
	if _, hit := ev.Evaluate(pos, decimal.NewFromInt(104), now, SignalHold, []float64{104, 104, 104, 104}); hit {
		t.Fatal("momentum exit fired on a profitable position")
	}
}
