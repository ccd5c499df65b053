package parley

import "time"

// Clock supplies the current time. Components that stamp or age records take
// a Clock so tests can pin time; the zero-value components use SystemClock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
