// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

var _ tracker.Clock = Clock{}

// Clock reports UTC wall time.
type Clock struct{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
