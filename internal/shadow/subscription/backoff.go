package subscription

import (
	"time"

	"github.com/jpillora/backoff"
)

// Backoff implements the resubscribe backoff algorithm of spec §4.4:
//
//	w <- max(1, min(3600, 2*w))   seconds, on a failure with no server delay
//	w <- 0; wait d next            seconds, on a failure with server delay d
//	w <- 0                         on subscription established
//
// The doubling itself is delegated to jpillora/backoff (Min=1s,
// Max=3600s, Factor=2, no jitter), which computes exactly
// min(Max, Min*Factor^attempt) and increments attempt on every call —
// the same shape the teacher's own schedulers reach for whenever a
// background worker needs exponential retry.
type Backoff struct {
	b *backoff.Backoff
}

// NewBackoff returns a backoff counter starting at w_0 = 1s.
func NewBackoff() *Backoff {
	return &Backoff{b: &backoff.Backoff{
		Min:    time.Second,
		Max:    3600 * time.Second,
		Factor: 2,
		Jitter: false,
	}}
}

// Failure records a failure and returns the wait before the next
// attempt. If serverDelay is non-nil, the counter resets and the
// server's delay is used verbatim instead of the computed backoff.
func (x *Backoff) Failure(serverDelay *time.Duration) time.Duration {
	if serverDelay != nil {
		x.b.Reset()
		return *serverDelay
	}
	return x.b.Duration()
}

// Success resets the counter (subscription established).
func (x *Backoff) Success() {
	x.b.Reset()
}
