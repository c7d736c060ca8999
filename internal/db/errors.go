package db

import (
	"errors"
	"fmt"

	"github.com/ldi/taskdeck/pkg/models"
)

// ErrCycle is returned when a dependency edge would close a cycle in the
// dependency graph. The edge set is left unchanged.
var ErrCycle = errors.New("adding this dependency would create a cycle")

// ErrSelfDependency is the one-node case of ErrCycle.
var ErrSelfDependency = fmt.Errorf("%w: a task cannot depend on itself", ErrCycle)

// NotFoundError reports a missing feature, task, or dependency target.
type NotFoundError struct {
	Kind string
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

// TransitionError reports a lifecycle operation invoked while the task was
// not in the status the operation requires.
type TransitionError struct {
	TaskID string
	Status models.TaskStatus
	Want   models.TaskStatus
}

func (e *TransitionError) Error() string {
	switch e.Want {
	case models.TaskStatusTodo:
		return fmt.Sprintf("task %s is not available (status: %s)", e.TaskID, e.Status)
	case models.TaskStatusInProgress:
		return fmt.Sprintf("task %s is not in progress (status: %s)", e.TaskID, e.Status)
	case models.TaskStatusBlocked:
		return fmt.Sprintf("task %s is not blocked (status: %s)", e.TaskID, e.Status)
	}
	return fmt.Sprintf("task %s is in status %s", e.TaskID, e.Status)
}

// ValidationError reports a malformed payload, such as a bulk-import body
// that is not an array of task descriptors.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
