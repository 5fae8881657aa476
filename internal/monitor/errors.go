package monitor

import (
	"errors"
	"fmt"
	"time"

	"subwatch/internal/config"
	"subwatch/internal/storage"
)

// ErrUnknownViewer means the roster has no entry for the configured viewer.
var ErrUnknownViewer = errors.New("viewer not in roster")

// Class selects the retry policy of a failed cycle.
type Class string

const (
	ClassTransient    Class = "transient"     // fetch, sink or IO trouble
	ClassCorruptState Class = "corrupt_state" // persisted data could not be decoded
	ClassConfig       Class = "config"        // settings or roster do not make sense
)

// CycleError is a failed cycle with its class.
type CycleError struct {
	Class Class
	Step  string
	Err   error
}

func (e *CycleError) Error() string { return fmt.Sprintf("%s (%s): %v", e.Step, e.Class, e.Err) }
func (e *CycleError) Unwrap() error { return e.Err }

func fail(class Class, step string, err error) error {
	return &CycleError{Class: class, Step: step, Err: err}
}

// Classify maps any cycle error to its class. Unclassified errors are transient.
func Classify(err error) Class {
	var ce *CycleError
	switch {
	case errors.As(err, &ce):
		return ce.Class
	case errors.Is(err, config.ErrInvalid), errors.Is(err, ErrUnknownViewer):
		return ClassConfig
	case errors.Is(err, storage.ErrCorrupt), errors.Is(err, config.ErrRosterCorrupt):
		return ClassCorruptState
	default:
		return ClassTransient
	}
}

// Backoff is the pause after a failed cycle of class c.
func Backoff(c Class, errorBackoff, interval time.Duration) time.Duration {
	if c == ClassConfig {
		return max(errorBackoff, interval)
	}
	return errorBackoff
}
