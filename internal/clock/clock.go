package clock

import "time"

// Clock supplies the current time. Lifecycle decisions and bidding-window
// checks read from a Clock rather than calling time.Now directly, so tests
// can drive transitions deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// System returns a Clock backed by the wall clock.
func System() Clock {
	return systemClock{}
}
