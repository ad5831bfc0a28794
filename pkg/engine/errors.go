package engine

import (
	"errors"
	"fmt"

	"github.com/traction-hq/traction/pkg/models"
)

// ErrTemplateInactive indicates an execution was requested against a
// deactivated template.
var ErrTemplateInactive = errors.New("template is not active")

// InvalidTransitionError reports a lifecycle operation applied in a state
// that does not permit it. The engine treats these as no-ops: the execution
// is left untouched and the error exists for diagnostics only.
type InvalidTransitionError struct {
	ExecutionID string
	Op          string
	From        models.ExecutionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s execution %s in state %q", e.Op, e.ExecutionID, e.From)
}

// IsInvalidTransition checks whether an error is a rejected lifecycle
// transition.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError

	return errors.As(err, &target)
}
