// Package errorkind defines the error taxonomy from the control plane's
// error-handling design: each kind carries enough context for status/monitor
// to surface a terminal status, a classified kind, a pointer to the solver
// output, the attempt counter, and the last-attempted recovery action.
package errorkind

import "fmt"

// Kind is one of the seven top-level error classes the control plane
// distinguishes for propagation/retry policy purposes.
type Kind string

const (
	Configuration Kind = "configuration"
	FileOperation Kind = "file_operation"
	JobSubmission Kind = "job_submission"
	Calculation   Kind = "calculation"
	Dependency    Kind = "dependency"
	Database      Kind = "database"
	Timeout       Kind = "timeout"
)

// Error wraps an underlying error with its taxonomy kind and optional
// calculation context.
type Error struct {
	Kind          Kind
	CalculationID string
	Err           error
}

func (e *Error) Error() string {
	if e.CalculationID != "" {
		return fmt.Sprintf("%s: calculation %s: %v", e.Kind, e.CalculationID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind k.
func New(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

// WithCalculation wraps err with kind k and calculation context, for rows
// whose failure is surfaced through the row itself rather than the CLI.
func WithCalculation(k Kind, calcID string, err error) *Error {
	return &Error{Kind: k, CalculationID: calcID, Err: err}
}

// ExitCode maps a Kind to the CLI exit-code convention: 0 success, 1
// operational failure, 2 user error, 3 no work. DependencyError is always
// a programming error and is surfaced loudly rather than retried.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var k Kind
	if e, ok := err.(*Error); ok {
		k = e.Kind
	}
	switch k {
	case Configuration:
		return 2
	default:
		return 1
	}
}
