package axidma

import "time"

// Clock is the time source used for settle delays, poll deadlines and
// the pause between Transfer attempts
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}
