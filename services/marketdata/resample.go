package marketdata

import (
	"sort"
	"time"

	"backtest-service/services/engine"
)

// ResampleDaily aggregates intraday bars into daily bars: first open,
// max high, min low, last close, summed volume. Input order does not
// matter; output is sorted by day. The engine consumes daily bars only,
// so intraday feeds pass through here first.
func ResampleDaily(bars []engine.Bar) []engine.Bar {
	if len(bars) == 0 {
		return nil
	}

	sorted := make([]engine.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var out []engine.Bar
	for _, b := range sorted {
		day := time.Date(b.Timestamp.Year(), b.Timestamp.Month(), b.Timestamp.Day(), 0, 0, 0, 0, time.UTC)
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(day) {
			cur := &out[n-1]
			if b.High.GreaterThan(cur.High) {
				cur.High = b.High
			}
			if b.Low.LessThan(cur.Low) {
				cur.Low = b.Low
			}
			cur.Close = b.Close
			cur.Volume = cur.Volume.Add(b.Volume)
			continue
		}
		out = append(out, engine.Bar{
			Symbol:    b.Symbol,
			Timestamp: day,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return out
}
