package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned by Stop when no capture is running.
	ErrNotRunning = errors.New("capture is not running")
	// ErrNoSources is returned by Start when no capture source was given.
	ErrNoSources = errors.New("no capture sources")
)

// CaptureSourceError reports that one ingestion loop ended with an error.
// The other loops keep running.
type CaptureSourceError struct {
	Source string
	Err    error
}

func (e *CaptureSourceError) Error() string {
	return fmt.Sprintf("capture source %s failed: %v", e.Source, e.Err)
}

func (e *CaptureSourceError) Unwrap() error {
	return e.Err
}
