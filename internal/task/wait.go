package task

import (
	"context"
	"time"
)

// WaitForReport blocks until the task completes and returns its report.
//
// It fails with a DeadlineExceeded *TimeoutError when opts.Timeout passes
// first, with ErrInterrupted (Canceled) when ctx ends, and with a
// *StatusError when the task is terminated or unknown.
func (s *Service) WaitForReport(ctx context.Context, taskID string, opts WaitOptions) (*Report, error) {
	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	expired := false
	for {
		s.mu.RLock()
		e, ok := s.tasks[taskID]
		if !ok {
			s.mu.RUnlock()
			return nil, newStatusError(taskID, StatusNotFound)
		}
		if opts.RequestingWorkspaceID != "" && !s.isDescendantLocked(opts.RequestingWorkspaceID, taskID) {
			s.mu.RUnlock()
			return nil, newScopeError(opts.RequestingWorkspaceID, taskID)
		}
		status := e.task.Status
		switch status {
		case StatusCompleted:
			report := &Report{TaskID: taskID, ReportMarkdown: e.task.ReportMarkdown, Title: e.task.ReportTitle}
			s.mu.RUnlock()
			return report, nil
		case StatusTerminated:
			s.mu.RUnlock()
			return nil, newStatusError(taskID, status)
		}
		changed := e.changed
		s.mu.RUnlock()

		if expired {
			return nil, newTimeoutError(taskID, status, opts.Timeout)
		}

		select {
		case <-changed:
		case <-timeout:
			// Look once more so a completion racing the timer still wins.
			expired = true
		case <-ctx.Done():
			return nil, newInterruptedError(ctx.Err())
		}
	}
}
