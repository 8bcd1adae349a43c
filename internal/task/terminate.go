package task

import (
	"context"
	"log/slog"

	"github.com/kazz187/taskmux/pkg/cerr"
)

// TerminateDescendantTask stops taskID and everything it spawned, deepest
// first, and returns the ids that were actually stopped. Tasks that already
// finished are left alone.
func (s *Service) TerminateDescendantTask(ctx context.Context, ancestorWorkspaceID, taskID string) ([]string, error) {
	s.mu.RLock()
	if _, ok := s.tasks[taskID]; !ok {
		s.mu.RUnlock()
		return nil, newNotFoundError(taskID)
	}
	if !s.isDescendantLocked(ancestorWorkspaceID, taskID) {
		s.mu.RUnlock()
		return nil, newScopeError(ancestorWorkspaceID, taskID)
	}
	subtree := s.subtreeLocked(taskID)
	s.mu.RUnlock()

	stopped := []string{}
	var firstErr error
	for _, id := range subtree {
		// Keep going after an error so no task of the cascade stays active.
		ok, err := s.terminateOne(ctx, id, "")
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ok {
			stopped = append(stopped, id)
		}
	}
	if firstErr != nil {
		return stopped, cerr.NewError(cerr.Internal, "failed to terminate task", firstErr)
	}
	slog.InfoContext(ctx, "task terminated", "task_id", taskID, "terminated_task_ids", stopped)
	return stopped, nil
}

// terminateOne moves an active task to terminated, cancels its runner and
// waits for it to exit, then tears down its workspace. It reports false for
// tasks that are unknown or already finished. The terminated state is
// persisted before waiting; if ctx ends first the teardown still happens
// once the runner exits, and ctx.Err() is returned.
func (s *Service) terminateOne(ctx context.Context, id, reason string) (bool, error) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok || !e.task.Status.IsActive() {
		s.mu.Unlock()
		return false, nil
	}
	e.task.Error = reason
	s.setStatusLocked(e, StatusTerminated)
	s.removeFromQueueLocked(id)
	s.publishLocked(EventTerminated, e)
	cancel, done := e.cancel, e.done
	s.mu.Unlock()

	s.persist(ctx, id)
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			detached := context.WithoutCancel(ctx)
			s.wg.Go(func() {
				<-done
				s.cleanupWorkspace(detached, id)
			})
			return true, ctx.Err()
		}
	}
	s.cleanupWorkspace(ctx, id)
	return true, nil
}

func (s *Service) removeFromQueueLocked(id string) {
	for i, q := range s.queue {
		if q == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// RemoveWorkspaceTasks drops every task spawned from workspaceID, stopping
// the active ones, and returns the removed ids.
func (s *Service) RemoveWorkspaceTasks(ctx context.Context, workspaceID string) []string {
	s.mu.RLock()
	var roots []string
	for id, e := range s.tasks {
		if e.task.ParentWorkspaceID == workspaceID {
			roots = append(roots, id)
		}
	}
	var all []string
	for _, root := range roots {
		all = append(all, s.subtreeLocked(root)...)
	}
	s.mu.RUnlock()

	for _, id := range all {
		if _, err := s.terminateOne(ctx, id, "workspace removed"); err != nil {
			slog.WarnContext(ctx, "failed to terminate task", "task_id", id, "error", err)
		}
	}

	for _, id := range all {
		s.mu.Lock()
		e, ok := s.tasks[id]
		if !ok {
			s.mu.Unlock()
			continue
		}
		parent := e.task.ParentWorkspaceID
		delete(s.tasks, id)
		s.removeFromQueueLocked(id)
		s.bus.Publish(parent, &Event{
			Type:        EventRemoved,
			TaskID:      id,
			WorkspaceID: parent,
			Status:      StatusNotFound,
			Title:       e.task.Title,
			At:          s.now(),
		})
		close(e.changed)
		s.mu.Unlock()

		s.cleanupWorkspace(ctx, id)
		s.persistTo(ctx, parent, id)
	}
	return all
}
