package persist

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition marks a measurement batch whose step reference could
	// not be resolved. It is never retried.
	ErrPrecondition = errors.New("persistence precondition violated")

	// ErrContention marks a write that kept failing on storage contention
	// until the retry budget ran out.
	ErrContention = errors.New("storage contention")
)

// PreconditionError reports a measurement that references a step with no
// committed identifier
type PreconditionError struct {
	BatchIndex int
	StepNumber int
	Row        int // index into the request's measurements
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("batch %d: measurement %d references step %d which has no committed id",
		e.BatchIndex, e.Row, e.StepNumber)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

// ContentionError reports a write that exhausted its retries
type ContentionError struct {
	Op         string
	BatchIndex int // -1 outside the measurement batches
	Attempts   int
	Err        error
}

func (e *ContentionError) Error() string {
	if e.BatchIndex >= 0 {
		return fmt.Sprintf("%s batch %d: gave up after %d attempts: %v", e.Op, e.BatchIndex, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ContentionError) Is(target error) bool { return target == ErrContention }

func (e *ContentionError) Unwrap() error { return e.Err }

// PartialWriteError is returned when the stored measurement count does not
// match the expected count. Err joins the per-batch failures.
type PartialWriteError struct {
	Expected int
	Actual   int
	Err      error
}

func (e *PartialWriteError) Error() string {
	msg := fmt.Sprintf("partial write: %d of %d measurements persisted", e.Actual, e.Expected)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PartialWriteError) Unwrap() error { return e.Err }
