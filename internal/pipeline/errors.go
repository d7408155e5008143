package pipeline

import (
	"errors"
	"fmt"

	"github.com/basket/lyrebird/internal/model"
)

// ErrRunClosed is wrapped by every mutation attempted on a finished run.
var ErrRunClosed = errors.New("pipeline: run closed")

// Kind classifies pipeline failures for callers that map them to transport
// status codes.
type Kind int

const (
	// KindProcessing means a stage failed; the run moved to the error stage.
	KindProcessing Kind = iota
	KindNotFound
	KindClosed
	// KindInvalid means the request was rejected before the run was touched.
	KindInvalid
	// KindConflict means the run's current stage does not allow the operation.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindProcessing:
		return "processing"
	case KindNotFound:
		return "not_found"
	case KindClosed:
		return "closed"
	case KindInvalid:
		return "invalid"
	case KindConflict:
		return "conflict"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the error type returned by Service operations.
type Error struct {
	Kind  Kind
	RunID string
	Stage model.Stage
	Err   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("run %s not found", e.RunID)
	case KindClosed:
		return fmt.Sprintf("run %s is closed", e.RunID)
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err when it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}
