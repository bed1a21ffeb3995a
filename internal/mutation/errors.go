package mutation

import (
	"errors"
	"fmt"

	"github.com/syntrixbase/docstore/pkg/model"
)

var (
	// ErrTaskMissing matches lookups of tasks that already finished.
	ErrTaskMissing = errors.New("task is missing")
	// ErrTaskNotFound matches lookups of ids this controller never ran.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskUnsupported matches operations addressed to a task of another
	// action.
	ErrTaskUnsupported = errors.New("task does not support this operation")
	// ErrControllerClosed is returned by Start after Close.
	ErrControllerClosed = errors.New("task controller is closed")
)

type taskError struct {
	*model.NotFoundError
	kind error
}

func (e *taskError) Is(target error) bool { return target == e.kind }

func (e *taskError) Unwrap() error { return e.NotFoundError }

func taskMissing(id TaskID) error {
	return &taskError{
		NotFoundError: &model.NotFoundError{Resource: model.ResourceTask, ID: id.String(), Message: fmt.Sprintf("task [%s] is missing", id)},
		kind:          ErrTaskMissing,
	}
}

func taskNotFound(id TaskID) error {
	return &taskError{
		NotFoundError: &model.NotFoundError{Resource: model.ResourceTask, ID: id.String(), Message: fmt.Sprintf("task [%s] isn't running and hasn't stored its results", id)},
		kind:          ErrTaskNotFound,
	}
}

func taskUnsupported(id TaskID) error {
	return &taskError{
		NotFoundError: &model.NotFoundError{Resource: model.ResourceTask, ID: id.String(), Message: fmt.Sprintf("task [%s] doesn't support this operation", id)},
		kind:          ErrTaskUnsupported,
	}
}
