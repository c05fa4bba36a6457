package signals

import "time"

// Signals are rolling window counts over recent push outcomes.
type Signals struct {
	Delivered1m    int
	Failures1m     int
	AuthFailures1m int
	LastUpdated    time.Time
}

// Healthy reports whether nothing failed in the last minute.
func (s Signals) Healthy() bool {
	return s.Failures1m == 0
}
