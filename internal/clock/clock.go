package clock

import "time"

// Clock is the time source used by services that stamp ledger and period rows.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func New() Clock {
	return SystemClock{}
}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed returns a clock pinned to t, for replaying a job as of a past instant.
func Fixed(t time.Time) Clock {
	return NewFakeClock(t)
}
