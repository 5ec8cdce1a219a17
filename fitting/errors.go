package fitting

import (
	"fmt"

	"golang.org/x/xerrors"
)

var (
	// ErrGone is returned by handle operations when the addressed control
	// process no longer exists. Callers must treat it as "stage has
	// finished or failed" and unwind.
	ErrGone = xerrors.New("fitting control is gone")

	// ErrBuilderExited is the termination reason of a control whose
	// pipeline builder exited abnormally.
	ErrBuilderExited = xerrors.New("pipeline builder exited")

	// ErrDrainTimeout is the termination reason of a control that gave up
	// waiting for its workers to report done.
	ErrDrainTimeout = xerrors.New("timed out waiting for workers to drain")

	errNoPartitionFunc = xerrors.New("partfun does not select partitions by output value")
)

// BadSpecError reports a validation failure for a fitting spec. Validation
// failures abort pipeline construction and are never retried.
type BadSpecError struct {
	Name   string
	Reason error
}

// Error implements error.
func (e *BadSpecError) Error() string {
	return fmt.Sprintf("bad spec for fitting %q: %v", e.Name, e.Reason)
}

// Unwrap returns the underlying validation failure.
func (e *BadSpecError) Unwrap() error { return e.Reason }

// InitFailedError is the termination reason of a worker whose module Init
// callback failed. Kind classifies the failure ("error" for a returned
// error, "panic" for a recovered panic) and Info carries the original value.
type InitFailedError struct {
	Kind string
	Info interface{}
}

// Error implements error.
func (e *InitFailedError) Error() string {
	return fmt.Sprintf("fitting worker init failed (%s): %v", e.Kind, e.Info)
}

// Unwrap returns the underlying error when the init failure was caused by a
// returned error.
func (e *InitFailedError) Unwrap() error {
	if err, ok := e.Info.(error); ok {
		return err
	}
	return nil
}
