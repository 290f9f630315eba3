package engine

import "math"

// Bands is one indicator channel around a moving average.
// Valid is false while the window is still warming up.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
	Valid  bool
}

// sma returns the simple moving average of the trailing window.
func sma(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// stddev returns the population standard deviation of the trailing window.
func stddev(values []float64, period int) (float64, bool) {
	mean, ok := sma(values, period)
	if !ok {
		return 0, false
	}
	variance := 0.0
	for _, v := range values[len(values)-period:] {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(period)), true
}

// BollingerBands builds a std-dev channel: middle ± mult*stddev.
func BollingerBands(values []float64, period int, mult float64) Bands {
	middle, ok := sma(values, period)
	if !ok {
		return Bands{}
	}
	sd, _ := stddev(values, period)
	return Bands{
		Upper:  middle + sd*mult,
		Middle: middle,
		Lower:  middle - sd*mult,
		Valid:  true,
	}
}

// EnvelopeBands builds a percentage channel. The lower band divides rather
// than subtracts, so the channel is symmetric in ratio terms.
func EnvelopeBands(values []float64, period int, percent float64) Bands {
	middle, ok := sma(values, period)
	if !ok {
		return Bands{}
	}
	mult := 1 + percent/100
	return Bands{
		Upper:  middle * mult,
		Middle: middle,
		Lower:  middle / mult,
		Valid:  true,
	}
}
