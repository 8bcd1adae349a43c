// Package task supervises sub-agent tasks: their lifecycle, their place in
// the workspace tree, and waiting for their reports.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc"

	"github.com/kazz187/taskmux/internal/eventbus"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/mutexmap"
	"github.com/kazz187/taskmux/pkg/panicerr"
)

type Config struct {
	// MaxParallel bounds how many tasks run at once; the rest stay queued.
	MaxParallel int
	// ReportAttempts is how many times a task that ended without a report
	// is asked for one before it is terminated.
	ReportAttempts int
}

// CleanupFunc releases per-workspace resources when a task's workspace goes away.
type CleanupFunc func(ctx context.Context, workspaceID string)

type entry struct {
	task Task
	// changed is closed and replaced on every update.
	changed chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	resume  bool
}

type Service struct {
	repo       Repository
	workspaces Workspaces
	runner     Runner
	bus        *eventbus.Bus[*Event]
	locks      *mutexmap.MutexMap[string]
	cfg        Config
	cleanups   []CleanupFunc
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     *conc.WaitGroup

	mu      sync.RWMutex
	tasks   map[string]*entry
	queue   []string
	running int
	closed  bool
}

func NewService(
	repo Repository,
	workspaces Workspaces,
	runner Runner,
	bus *eventbus.Bus[*Event],
	locks *mutexmap.MutexMap[string],
	cfg Config,
) *Service {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:       repo,
		workspaces: workspaces,
		runner:     runner,
		bus:        bus,
		locks:      locks,
		cfg:        cfg,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		wg:         conc.NewWaitGroup(),
		tasks:      make(map[string]*entry),
	}
}

// OnWorkspaceRemoved registers f to run whenever a task's workspace is torn down.
func (s *Service) OnWorkspaceRemoved(f CleanupFunc) {
	s.cleanups = append(s.cleanups, f)
}

func (s *Service) Subscribe(workspaceID string) (string, <-chan *Event) {
	return s.bus.Subscribe(workspaceID)
}

func (s *Service) SubscribeAll() (string, <-chan *Event) {
	return s.bus.SubscribeAll()
}

func (s *Service) Unsubscribe(id string) {
	s.bus.Unsubscribe(id)
}

// Spawn creates a child workspace under parentWorkspaceID and a task that
// runs in it. The task starts immediately when a slot is free.
func (s *Service) Spawn(ctx context.Context, parentWorkspaceID string, spec SpawnSpec) (*Task, error) {
	if parentWorkspaceID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "parent workspace id is required", nil)
	}
	if strings.TrimSpace(spec.Prompt) == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "prompt is required", nil)
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, cerr.NewError(cerr.Unavailable, "task service is shutting down", nil)
	}

	id := ulid.Make().String()
	title := spec.Title
	if title == "" {
		title = defaultTitle(spec.Prompt)
	}
	if _, err := s.workspaces.CreateChild(ctx, parentWorkspaceID, id, title); err != nil {
		return nil, err
	}

	now := s.now()
	t := Task{
		ID:                id,
		ParentWorkspaceID: parentWorkspaceID,
		Status:            StatusQueued,
		Title:             title,
		Prompt:            spec.Prompt,
		AgentType:         spec.AgentType,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := s.locks.WithLock(ctx, parentWorkspaceID, func(ctx context.Context) error {
		return s.repo.Save(ctx, &t)
	})
	if err != nil {
		if rmErr := s.workspaces.Remove(context.WithoutCancel(ctx), id); rmErr != nil {
			slog.WarnContext(ctx, "failed to remove workspace of unsaved task", "task_id", id, "error", rmErr)
		}
		return nil, err
	}

	s.mu.Lock()
	e := &entry{task: t, changed: make(chan struct{})}
	s.tasks[id] = e
	s.queue = append(s.queue, id)
	s.publishLocked(EventCreated, e)
	started := s.scheduleLocked()
	out := e.task
	s.mu.Unlock()

	s.persistAll(ctx, started)
	slog.InfoContext(ctx, "task spawned", "task_id", id, "workspace_id", parentWorkspaceID, "status", out.Status)
	return &out, nil
}

func defaultTitle(prompt string) string {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(prompt), "\n", 2)[0])
	if r := []rune(line); len(r) > 60 {
		line = string(r[:60]) + "…"
	}
	return line
}

// scheduleLocked starts queued tasks while slots are free and returns the
// ids whose status changed.
func (s *Service) scheduleLocked() []string {
	var started []string
	for !s.closed && s.running < s.cfg.MaxParallel && len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]
		e, ok := s.tasks[id]
		if !ok || e.task.Status != StatusQueued {
			continue
		}

		req := RunRequest{
			TaskID:      id,
			WorkspaceID: e.task.WorkspaceID(),
			Title:       e.task.Title,
			Prompt:      e.task.Prompt,
			AgentType:   e.task.AgentType,
			SessionID:   e.task.SessionID,
		}
		if ws, ok := s.workspaces.Get(e.task.WorkspaceID()); ok {
			req.Dir = ws.Dir
		}
		if e.resume && req.SessionID != "" {
			req.Prompt = resumePrompt
		}
		e.resume = false

		ctx, cancel := context.WithCancel(s.ctx)
		e.cancel = cancel
		e.done = make(chan struct{})
		s.running++
		s.setStatusLocked(e, StatusRunning)
		s.publishLocked(EventStatusChanged, e)
		started = append(started, id)

		done := e.done
		s.wg.Go(func() {
			defer close(done)
			s.run(ctx, req)
		})
	}
	return started
}

func (s *Service) run(ctx context.Context, req RunRequest) {
	defer s.finish(req.TaskID)

	for {
		res, err := panicerr.CallValue(func() (*RunResult, error) {
			return s.runner.Run(ctx, req)
		})
		if ctx.Err() != nil {
			// Terminated or shutting down; whoever cancelled owns the status.
			return
		}
		if res != nil && res.SessionID != "" && res.SessionID != req.SessionID {
			req.SessionID = res.SessionID
			s.update(ctx, req.TaskID, func(t *Task) { t.SessionID = res.SessionID })
		}
		if err != nil {
			slog.ErrorContext(ctx, "task runner failed", "task_id", req.TaskID, "error", err)
			s.fail(ctx, req.TaskID, err.Error())
			return
		}
		if res != nil && strings.TrimSpace(res.ReportMarkdown) != "" {
			if err := s.complete(ctx, req.TaskID, res.ReportMarkdown, res.ReportTitle); err != nil && !cerr.IsCode(err, cerr.FailedPrecondition) {
				slog.WarnContext(ctx, "failed to complete task", "task_id", req.TaskID, "error", err)
			}
			return
		}
		if t, ok := s.Get(req.TaskID); !ok || !t.Status.IsActive() {
			// Completed through SubmitReport during the turn.
			return
		}
		if !s.beginReportAttempt(ctx, req.TaskID) {
			s.fail(ctx, req.TaskID, "task ended without a report")
			return
		}
		req.Prompt = reportPrompt
	}
}

// finish frees the task's slot and starts whatever is queued next.
func (s *Service) finish(id string) {
	s.mu.Lock()
	s.running--
	if e, ok := s.tasks[id]; ok && e.cancel != nil {
		e.cancel()
	}
	started := s.scheduleLocked()
	s.mu.Unlock()
	s.persistAll(s.ctx, started)
}

func (s *Service) beginReportAttempt(ctx context.Context, id string) bool {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok || !e.task.Status.IsActive() || e.task.ReportAttempts >= s.cfg.ReportAttempts {
		s.mu.Unlock()
		return false
	}
	e.task.ReportAttempts++
	s.setStatusLocked(e, StatusAwaitingReport)
	s.publishLocked(EventStatusChanged, e)
	s.mu.Unlock()
	s.persist(ctx, id)
	return true
}

// SubmitReport completes an active task with a report.
func (s *Service) SubmitReport(ctx context.Context, taskID, reportMarkdown, title string) error {
	if strings.TrimSpace(reportMarkdown) == "" {
		return cerr.NewError(cerr.InvalidArgument, "report is empty", nil)
	}
	return s.complete(ctx, taskID, reportMarkdown, title)
}

func (s *Service) complete(ctx context.Context, id, reportMarkdown, title string) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return newNotFoundError(id)
	}
	if !e.task.Status.IsActive() {
		status := e.task.Status
		s.mu.Unlock()
		return cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task %s is already %s", id, status), nil)
	}
	if title == "" {
		title = e.task.Title
	}
	e.task.ReportMarkdown = reportMarkdown
	e.task.ReportTitle = title
	s.setStatusLocked(e, StatusCompleted)
	s.publishLocked(EventCompleted, e)
	s.mu.Unlock()

	s.persist(ctx, id)
	slog.InfoContext(ctx, "task completed", "task_id", id)
	return nil
}

// fail terminates the task from inside its own runner, along with its descendants.
func (s *Service) fail(ctx context.Context, id, reason string) {
	s.mu.RLock()
	subtree := s.subtreeLocked(id)
	s.mu.RUnlock()
	if len(subtree) == 0 {
		return
	}
	for _, d := range subtree[:len(subtree)-1] {
		if _, err := s.terminateOne(ctx, d, "parent task failed"); err != nil {
			slog.WarnContext(ctx, "failed to terminate descendant", "task_id", d, "error", err)
		}
	}

	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok || !e.task.Status.IsActive() {
		s.mu.Unlock()
		return
	}
	e.task.Error = reason
	s.setStatusLocked(e, StatusTerminated)
	s.publishLocked(EventTerminated, e)
	s.mu.Unlock()

	s.cleanupWorkspace(ctx, id)
	s.persist(ctx, id)
}

func (s *Service) update(ctx context.Context, id string, fn func(t *Task)) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	fn(&e.task)
	e.task.UpdatedAt = s.now()
	s.mu.Unlock()
	s.persist(ctx, id)
}

func (s *Service) setStatusLocked(e *entry, status Status) {
	e.task.Status = status
	e.task.UpdatedAt = s.now()
	close(e.changed)
	e.changed = make(chan struct{})
}

// publishLocked runs under s.mu so events leave in change order.
func (s *Service) publishLocked(typ EventType, e *entry) {
	s.bus.Publish(e.task.ParentWorkspaceID, &Event{
		Type:        typ,
		TaskID:      e.task.ID,
		WorkspaceID: e.task.ParentWorkspaceID,
		Status:      e.task.Status,
		Title:       e.task.Title,
		Error:       e.task.Error,
		At:          e.task.UpdatedAt,
	})
}

// persist writes the task's current state under its parent workspace key.
// Terminated or removed tasks have their record deleted instead. Failures
// are logged; the in-memory registry stays authoritative.
func (s *Service) persist(ctx context.Context, id string) {
	s.mu.RLock()
	e, ok := s.tasks[id]
	var parent string
	if ok {
		parent = e.task.ParentWorkspaceID
	}
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.persistTo(ctx, parent, id)
}

func (s *Service) persistTo(ctx context.Context, parentWorkspaceID, id string) {
	ctx = context.WithoutCancel(ctx)
	err := s.locks.WithLock(ctx, parentWorkspaceID, func(ctx context.Context) error {
		s.mu.RLock()
		e, ok := s.tasks[id]
		var snapshot Task
		if ok {
			snapshot = e.task
		}
		s.mu.RUnlock()

		if !ok || snapshot.Status == StatusTerminated {
			err := s.repo.Delete(ctx, parentWorkspaceID, id)
			if cerr.IsCode(err, cerr.NotFound) {
				return nil
			}
			return err
		}
		return s.repo.Save(ctx, &snapshot)
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to persist task", "task_id", id, "workspace_id", parentWorkspaceID, "error", err)
	}
}

func (s *Service) persistAll(ctx context.Context, ids []string) {
	for _, id := range ids {
		s.persist(ctx, id)
	}
}

func (s *Service) cleanupWorkspace(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	for _, f := range s.cleanups {
		f(ctx, id)
	}
	if err := s.workspaces.Remove(ctx, id); err != nil && !cerr.IsCode(err, cerr.NotFound) {
		slog.WarnContext(ctx, "failed to remove task workspace", "task_id", id, "error", err)
	}
}

// Get returns a copy of the task.
func (s *Service) Get(taskID string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	t := e.task
	return &t, true
}

// Restore loads the persisted tasks of workspaceIDs. Active tasks are queued
// again and resume their session when they start.
func (s *Service) Restore(ctx context.Context, workspaceIDs []string) error {
	var loaded []*Task
	for _, ws := range workspaceIDs {
		tasks, err := s.repo.List(ctx, ws)
		if err != nil {
			return err
		}
		loaded = append(loaded, tasks...)
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].CreatedAt.Before(loaded[j].CreatedAt) })

	s.mu.Lock()
	var requeued []string
	for _, t := range loaded {
		if _, ok := s.tasks[t.ID]; ok || !t.Status.Valid() || t.Status == StatusTerminated {
			continue
		}
		e := &entry{task: *t, changed: make(chan struct{})}
		if t.Status.IsActive() {
			e.task.Status = StatusQueued
			e.resume = true
			s.queue = append(s.queue, t.ID)
			requeued = append(requeued, t.ID)
		}
		s.tasks[t.ID] = e
	}
	started := s.scheduleLocked()
	s.mu.Unlock()

	s.persistAll(ctx, requeued)
	s.persistAll(ctx, started)
	slog.InfoContext(ctx, "tasks restored", "count", len(loaded), "requeued", len(requeued))
	return nil
}

// Close stops scheduling and cancels running tasks without changing their
// status, so the next Restore picks them up again.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
