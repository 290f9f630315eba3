package engine

// breachThreshold is the fraction a close must clear a band by before it
// counts as a breach (0.1%), filtering exact-touch noise.
const breachThreshold = 0.001

// maxStrength clips per-indicator strength to ±2 band half-widths.
const maxStrength = 2.0

// SignalGenerator combines a Bollinger channel and an envelope channel
// over the rolling close window into one directional signal.
type SignalGenerator struct {
	cfg *Config
}

func NewSignalGenerator(cfg *Config) *SignalGenerator {
	return &SignalGenerator{cfg: cfg}
}

// SignalResult carries the signal, its combined strength, and the band
// values that produced it (kept for the daily diagnostics).
type SignalResult struct {
	Signal    Signal
	Strength  float64
	Bollinger Bands
	Envelope  Bands
}

// Evaluate computes the signal for the window ending at the current bar.
// closes must already include the current bar's close. With fewer closes
// than the longest configured period the result is always HOLD: indicators
// are undefined during warm-up and that is not an error.
func (g *SignalGenerator) Evaluate(closes []float64) SignalResult {
	if len(closes) < g.cfg.LookbackBars() {
		return SignalResult{Signal: SignalHold}
	}
	price := closes[len(closes)-1]

	bb := BollingerBands(closes, g.cfg.BollingerPeriod, g.cfg.BollingerStdMult)
	env := EnvelopeBands(closes, g.cfg.EnvelopePeriod, g.cfg.EnvelopePercent)
	res := SignalResult{Signal: SignalHold, Bollinger: bb, Envelope: env}
	if !bb.Valid || !env.Valid {
		return res
	}

	bbDir := bandDirection(price, bb)
	envDir := bandDirection(price, env)

	// A breach in each direction at once can only mean misreading the
	// bands; resolve the conflict to HOLD.
	if bbDir != SignalHold && envDir != SignalHold && bbDir != envDir {
		return res
	}

	if g.cfg.StrictSignals {
		if bbDir == envDir {
			res.Signal = bbDir
		}
	} else {
		if bbDir != SignalHold {
			res.Signal = bbDir
		} else {
			res.Signal = envDir
		}
	}
	if res.Signal != SignalHold {
		res.Strength = (bandStrength(price, bb) + bandStrength(price, env)) / 2
	}
	return res
}

// bandDirection maps a close against one channel: below the lower band is
// a buy (oversold), above the upper band a sell.
func bandDirection(price float64, b Bands) Signal {
	switch {
	case price < b.Lower*(1-breachThreshold):
		return SignalBuy
	case price > b.Upper*(1+breachThreshold):
		return SignalSell
	default:
		return SignalHold
	}
}

// bandStrength positions the close within the channel: 0 at the middle
// line, ±1 at the bands, clipped to ±2 beyond them.
func bandStrength(price float64, b Bands) float64 {
	var s float64
	if price >= b.Middle {
		width := b.Upper - b.Middle
		if width <= 0 {
			return 0
		}
		s = (price - b.Middle) / width
	} else {
		width := b.Middle - b.Lower
		if width <= 0 {
			return 0
		}
		s = (price - b.Middle) / width
	}
	if s > maxStrength {
		return maxStrength
	}
	if s < -maxStrength {
		return -maxStrength
	}
	return s
}
