package tracker

import (
	"errors"
	"fmt"
)

// Sentinel errors returned across the tracker, stores and transports.
var (
	ErrNotPublic       = errors.New("profile not public")
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidURL      = errors.New("invalid profile url")
	ErrInvalidName     = errors.New("name is required")
	ErrInvalidDelay    = errors.New("delay must be between 0 and 86400 seconds")
	ErrRunInProgress   = errors.New("a run is already in progress")
	ErrNameNotDetected = errors.New("could not detect a name")
)

// FetchError describes a transport level failure (network, timeout, bad status).
type FetchError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NotPublicError wraps ErrNotPublic with the rule that triggered it.
func NotPublicError(reason string) error {
	return fmt.Errorf("%w: %s", ErrNotPublic, reason)
}
