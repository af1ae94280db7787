package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ayusman/gridpoint/internal/capture"
	"github.com/ayusman/gridpoint/internal/protocol"
)

// ResourceError is a camera failure. It aborts the current mode.
type ResourceError struct {
	Op   string
	Code string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// PerceptionError is a detector or segmentation failure.
type PerceptionError struct {
	Op   string
	Code string
	Err  error
}

func (e *PerceptionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PerceptionError) Unwrap() error { return e.Err }

// PlanningError reports an unreachable goal.
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string {
	return "plan path: " + e.Err.Error()
}

func (e *PlanningError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unexpected command.
type ProtocolError struct {
	Raw  string
	Code string
	Err  error
}

func (e *ProtocolError) Error() string {
	return e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// acquireError classifies a failed camera acquisition.
func acquireError(err error) *ResourceError {
	code := protocol.CodeCameraUnavailable
	if errors.Is(err, capture.ErrCameraBusy) {
		code = protocol.CodeCameraBusy
	}
	return &ResourceError{Op: "acquire camera", Code: code, Err: err}
}

// errorCode returns the wire code for err.
func errorCode(err error) string {
	var (
		re *ResourceError
		pe *PerceptionError
		le *PlanningError
		xe *ProtocolError
	)
	switch {
	case errors.As(err, &re):
		return re.Code
	case errors.As(err, &pe):
		return pe.Code
	case errors.As(err, &le):
		return protocol.CodeNoPath
	case errors.As(err, &xe):
		return xe.Code
	}
	return protocol.CodeCameraFailed
}
