package cyclerexport

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFormat is matched by every *FormatError
	ErrFormat = errors.New("format error")
	// ErrOrphanReference is matched by every *OrphanReferenceError
	ErrOrphanReference = errors.New("orphan step reference")
)

// FormatError reports an export that cannot be parsed
type FormatError struct {
	File    string
	Missing []string // canonical fields absent from the header row
	Row     int      // 1-based data row, 0 when not row specific
	Column  string
	Reason  string
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString("format error")
	if e.File != "" {
		fmt.Fprintf(&b, " in %s", e.File)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing required columns %s", strings.Join(e.Missing, ", "))
	}
	if e.Row > 0 {
		fmt.Fprintf(&b, ": row %d", e.Row)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, " column %s", e.Column)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// OrphanReferenceError reports detail rows whose step number has no step row
type OrphanReferenceError struct {
	File        string
	StepNumbers []int
	Rows        int
}

func (e *OrphanReferenceError) Error() string {
	nums := make([]string, len(e.StepNumbers))
	for i, n := range e.StepNumbers {
		nums[i] = fmt.Sprint(n)
	}
	return fmt.Sprintf("%d detail rows in %s reference unknown steps [%s]", e.Rows, e.File, strings.Join(nums, ", "))
}

func (e *OrphanReferenceError) Is(target error) bool {
	return target == ErrOrphanReference || target == ErrFormat
}
