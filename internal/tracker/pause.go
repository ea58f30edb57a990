package tracker

import (
	"context"
	"math"
	"time"
)

// MaxDelay caps the pause between consecutive profiles.
const MaxDelay = 24 * time.Hour

// DelayFromSeconds converts fractional seconds, as entered in forms, flags and
// config files. Negative, non-finite and above-MaxDelay values are rejected.
func DelayFromSeconds(seconds float64) (time.Duration, error) {
	if math.IsNaN(seconds) || seconds < 0 || seconds > MaxDelay.Seconds() {
		return 0, ErrInvalidDelay
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// TimerPauser sleeps with a timer and returns early when the context ends.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
