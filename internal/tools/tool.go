// Package tools provides the concrete capabilities subtask descriptions are
// routed to, behind one small interface the dispatcher consumes.
package tools

import (
	"context"
	"fmt"
)

// Tool is one registered capability. CapabilityTags drive description-based
// routing in the dispatcher; Invoke executes the tool against a subtask
// description and returns its raw output.
type Tool interface {
	Name() string
	Description() string
	CapabilityTags() []string
	Invoke(ctx context.Context, input string) (string, error)
}

// Error tags a tool failure with its retry classification. Transient errors
// (network, timeouts) are worth retrying; permanent ones (invalid input,
// unsupported request) are not.
type Error struct {
	Tool      string
	Err       error
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a retryable tool failure.
func NewTransientError(tool string, err error) *Error {
	return &Error{Tool: tool, Err: err, Transient: true}
}

// NewPermanentError wraps err as a non-retryable tool failure.
func NewPermanentError(tool string, err error) *Error {
	return &Error{Tool: tool, Err: err, Transient: false}
}
