package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/kazz187/taskmux/pkg/cerr"
)

// ErrInterrupted is returned by WaitForReport when the caller cancels.
var ErrInterrupted = errors.New("interrupted")

// TimeoutError reports that a wait ran out of time while the task was still
// active. It is a status report; waiting again is the expected follow-up.
type TimeoutError struct {
	TaskID  string
	Status  Status
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s still %s after %s", e.TaskID, e.Status, e.Timeout)
}

// StatusError reports that a task ended, or vanished, without a report.
type StatusError struct {
	TaskID string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("task %s is %s", e.TaskID, e.Status)
}

func newTimeoutError(id string, status Status, timeout time.Duration) error {
	te := &TimeoutError{TaskID: id, Status: status, Timeout: timeout}
	return cerr.NewError(cerr.DeadlineExceeded, te.Error(), te)
}

func newStatusError(id string, status Status) error {
	se := &StatusError{TaskID: id, Status: status}
	code := cerr.FailedPrecondition
	if status == StatusNotFound {
		code = cerr.NotFound
	}
	return cerr.NewError(code, se.Error(), se)
}

func newInterruptedError(cause error) error {
	return cerr.NewError(cerr.Canceled, "interrupted", errors.Join(ErrInterrupted, cause))
}

func newNotFoundError(id string) error {
	return cerr.NewError(cerr.NotFound, fmt.Sprintf("task %s not found", id), nil)
}

func newScopeError(workspaceID, id string) error {
	return cerr.NewError(cerr.PermissionDenied, fmt.Sprintf("task %s is not a descendant of workspace %s", id, workspaceID), nil)
}
