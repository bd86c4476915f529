package transport

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LinearBackOff waits step*n before the n-th retry.
type LinearBackOff struct {
	step time.Duration
	n    int
}

var _ backoff.BackOff = (*LinearBackOff)(nil)

// NewLinearBackOff creates a linear policy with the given step.
func NewLinearBackOff(step time.Duration) *LinearBackOff {
	return &LinearBackOff{step: step}
}

// NextBackOff implements backoff.BackOff.
func (l *LinearBackOff) NextBackOff() time.Duration {
	l.n++
	return l.step * time.Duration(l.n)
}

// Reset implements backoff.BackOff.
func (l *LinearBackOff) Reset() {
	l.n = 0
}
