// Standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrTemplateNotFound indicates a template was not found by the given id.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrExecutionNotFound indicates an execution was not found by the given id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrDraftNotFound indicates no draft is stored under the given key.
	ErrDraftNotFound = errors.New("draft not found")
)

// TemplateError wraps template-related errors with operation context.
type TemplateError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save")
	TemplateID string
	Err        error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("%s operation failed for template %s: %v", e.Op, e.TemplateID, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

func (e *TemplateError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewTemplateError(op, templateID string, err error) *TemplateError {
	return &TemplateError{Op: op, TemplateID: templateID, Err: err}
}

// ExecutionError wraps execution-related errors with operation context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsTemplateNotFound checks whether an error indicates a missing template.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsExecutionNotFound checks whether an error indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsDraftNotFound checks whether an error indicates a missing draft.
func IsDraftNotFound(err error) bool {
	return errors.Is(err, ErrDraftNotFound)
}
