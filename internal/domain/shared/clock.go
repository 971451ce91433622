package shared

import "time"

// Clock supplies the current time to components that stamp or compare dates
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a function to the Clock interface
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}
