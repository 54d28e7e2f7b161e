// File: internal/detection/errors.go
package detection

import (
	"errors"
	"fmt"
	"time"
)

// Fault is an acquisition-level failure for a single target, such as a
// reference image that cannot be read or decoded. It is fatal for the target
// but never for the process.
type Fault struct {
	Target   string
	Strategy Strategy
	Asset    string
	Err      error
}

func (f *Fault) Error() string {
	if f.Asset != "" {
		return fmt.Sprintf("detection fault for target %q (%s, asset %s): %v", f.Target, f.Strategy, f.Asset, f.Err)
	}
	return fmt.Sprintf("detection fault for target %q (%s): %v", f.Target, f.Strategy, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// MissError is returned by callers that turn a not-found Result into a step
// failure. The engine itself reports misses as Result{Found: false}.
type MissError struct {
	Target  string
	Timeout time.Duration
	Sweeps  int
}

func (e *MissError) Error() string {
	return fmt.Sprintf("target %q not found within %s (%d sweeps)", e.Target, e.Timeout, e.Sweeps)
}

// IsFault reports whether err carries a *Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

// IsMiss reports whether err carries a *MissError.
func IsMiss(err error) bool {
	var m *MissError
	return errors.As(err, &m)
}
