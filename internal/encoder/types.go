// Package encoder runs one external encoder pass at a time, turning the
// encoder's stderr status line into overall-run progress events and
// classifying how the process ended.
package encoder

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRequest     = errors.New("invalid run request")
	ErrBusy               = errors.New("a run is already active")
	ErrExecutableNotFound = errors.New("encoder executable not found")
	ErrLaunchFailed       = errors.New("encoder launch failed")
)

// LaunchError reports a start failure other than a missing executable.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() []error { return []error{ErrLaunchFailed, e.Err} }

// RunRequest is one encoder invocation. Command[0] is the executable; the
// rest of the vector is passed through untouched.
type RunRequest struct {
	Command                 []string
	ExpectedDurationSeconds float64
	PassIndex               int // 1-based
	PassCount               int
}

func (r RunRequest) validate() error {
	if len(r.Command) == 0 || r.Command[0] == "" {
		return fmt.Errorf("%w: empty command", ErrInvalidRequest)
	}
	if r.PassCount < 1 {
		return fmt.Errorf("%w: pass count %d", ErrInvalidRequest, r.PassCount)
	}
	if r.PassIndex < 1 || r.PassIndex > r.PassCount {
		return fmt.Errorf("%w: pass %d of %d", ErrInvalidRequest, r.PassIndex, r.PassCount)
	}
	return nil
}

// ProgressEvent is emitted for every recognised time marker.
type ProgressEvent struct {
	PassIndex      int     `json:"pass"`
	PassCount      int     `json:"passes"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	OverallPercent float64 `json:"percent"`
}

// Status is the terminal state of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Outcome is the structured result of one run.
type Outcome struct {
	Status   Status        `json:"status"`
	ExitCode int           `json:"exit_code"`
	Detail   string        `json:"detail,omitempty"` // stderr tail on failure
	Duration time.Duration `json:"duration"`
}

// IsSuccess returns true when the encoder exited cleanly.
func (o Outcome) IsSuccess() bool { return o.Status == StatusSucceeded }
