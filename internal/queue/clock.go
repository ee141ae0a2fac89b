package queue

import "time"

// Clock abstracts wall time so claim/timeout behavior is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
