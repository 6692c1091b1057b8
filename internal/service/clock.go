package service

import "time"

// Clock abstracts time for expiry and lateness rules so they stay testable.
type Clock interface {
	Now() time.Time
	Today() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func (systemClock) Today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

// truncateToDay drops the time-of-day component for date-only comparisons.
func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
