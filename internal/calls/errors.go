package calls

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("call not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPresentation    = errors.New("call presentation failed")
)

// PresentationError reports that the OS call-UI rejected an operation.
// Session state is never rolled back when one of these is returned.
type PresentationError struct {
	Op     string
	CallID string
	Err    error
}

func (e *PresentationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("callui %s %s: rejected", e.Op, e.CallID)
	}
	return fmt.Sprintf("callui %s %s: %v", e.Op, e.CallID, e.Err)
}

func (e *PresentationError) Unwrap() error { return e.Err }

func (e *PresentationError) Is(target error) bool { return target == ErrPresentation }

// NewPresentationError wraps err unless it is nil or already a PresentationError.
func NewPresentationError(op, callID string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PresentationError
	if errors.As(err, &pe) {
		return err
	}
	return &PresentationError{Op: op, CallID: callID, Err: err}
}
