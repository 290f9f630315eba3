package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientFunds marks an entry intent that cannot be funded.
// It is absorbed by the per-bar loop, never surfaced to the caller.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ConfigError is a fatal, pre-run parameter rejection.
type ConfigError struct {
	Field  string
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}

// DataIntegrityError is fatal for the run: a bar violated OHLC ordering
// or the series was not strictly ascending. The run reports the offending
// bar instead of clamping, since clamping would fabricate history.
type DataIntegrityError struct {
	Symbol    string
	Index     int
	Timestamp time.Time
	Reason    string
}

func (e DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity violation: %s bar %d (%s): %s",
		e.Symbol, e.Index, e.Timestamp.Format("2006-01-02"), e.Reason)
}
