package marketdata

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backtest-service/services/engine"
)

func intraday(t *testing.T, hour int, day int, open, high, low, close, volume string) engine.Bar {
	t.Helper()
	return engine.Bar{
		Symbol:    "005930",
		Timestamp: time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC),
		Open:      decimal.RequireFromString(open),
		High:      decimal.RequireFromString(high),
		Low:       decimal.RequireFromString(low),
		Close:     decimal.RequireFromString(close),
		Volume:    decimal.RequireFromString(volume),
	}
}

func TestResampleDaily(t *testing.T) {
	bars := []engine.Bar{
		// Out of order on purpose.
		intraday(t, 12, 2, "101", "103", "100", "102", "200"),
		intraday(t, 9, 2, "100", "101", "99", "101", "100"),
		intraday(t, 15, 2, "102", "104", "101", "103", "300"),
		intraday(t, 9, 3, "103", "105", "103", "104", "150"),
	}

	daily := ResampleDaily(bars)
	if len(daily) != 2 {
		t.Fatalf("days = %d, want 2", len(daily))
	}

	d := daily[0]
	if want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC); !d.Timestamp.Equal(want) {
		t.Fatalf("day = %s, want %s", d.Timestamp, want)
	}
	if !d.Open.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("open = %s, want 100 (first bar of the day)", d.Open)
	}
	if !d.High.Equal(decimal.RequireFromString("104")) {
		t.Fatalf("high = %s, want 104", d.High)
	}
	if !d.Low.Equal(decimal.RequireFromString("99")) {
		t.Fatalf("low = %s, want 99", d.Low)
	}
	if !d.Close.Equal(decimal.RequireFromString("103")) {
		t.Fatalf("close = %s, want 103 (last bar of the day)", d.Close)
	}
	if !d.Volume.Equal(decimal.RequireFromString("600")) {
		t.Fatalf("volume = %s, want 600", d.Volume)
	}
}

func TestResampleDailyPassthrough(t *testing.T) {
	bars := []engine.Bar{intraday(t, 0, 2, "100", "105", "99", "104", "1000")}
	daily := ResampleDaily(bars)
	if len(daily) != 1 {
		t.Fatalf("days = %d, want 1", len(daily))
	}
	if ResampleDaily(nil) != nil {
		t.Fatal("resample of nil input not nil")
	}
}
