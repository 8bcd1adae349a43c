package statusset

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/kazz187/taskmux/internal/eventbus"
	"github.com/kazz187/taskmux/internal/runtime"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/mutexmap"
	"github.com/kazz187/taskmux/pkg/storage"
)

const (
	statusFile    = "status_set.json"
	scriptTimeout = 30 * time.Second
)

type RuntimeResolver interface {
	Runtime(workspaceID string) (runtime.Runtime, error)
}

type Service struct {
	runtimes RuntimeResolver
	storage  storage.Storage
	locks    *mutexmap.MutexMap[string]
	bus      *eventbus.Bus[*Update]
	now      func() time.Time
	minPoll  time.Duration

	mu      sync.Mutex
	records map[string]*Record
	pollers map[string]context.CancelFunc
	wg      conc.WaitGroup
}

func NewService(runtimes RuntimeResolver, s storage.Storage, locks *mutexmap.MutexMap[string], bus *eventbus.Bus[*Update]) *Service {
	return &Service{
		runtimes: runtimes,
		storage:  s,
		locks:    locks,
		bus:      bus,
		now:      time.Now,
		minPoll:  MinPollInterval,
		records:  make(map[string]*Record),
		pollers:  make(map[string]context.CancelFunc),
	}
}

func StatusPath(workspaceID string) string {
	return fmt.Sprintf("%s/%s", workspaceID, statusFile)
}

// Set registers script for the workspace, runs it once and, when
// pollInterval is positive, keeps re-running it.
func (s *Service) Set(ctx context.Context, workspaceID, script string, pollInterval time.Duration) (*Status, error) {
	script = strings.TrimSpace(script)
	if workspaceID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "workspace id is required", nil)
	}
	if script == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "script is required", nil)
	}
	if pollInterval > 0 && pollInterval < s.minPoll {
		pollInterval = s.minPoll
	}

	status, err := s.run(ctx, workspaceID, script)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Script:         script,
		PollIntervalMs: pollInterval.Milliseconds(),
		Status:         status,
		UpdatedAt:      s.now(),
	}
	if err := s.save(ctx, workspaceID, rec); err != nil {
		return nil, err
	}
	s.publish(workspaceID, rec)
	s.startPoller(workspaceID, rec)
	return status, nil
}

func (s *Service) Get(workspaceID string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[workspaceID]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// Clear stops polling and forgets the workspace's status.
func (s *Service) Clear(ctx context.Context, workspaceID string) error {
	s.stopPoller(workspaceID)
	err := s.locks.WithLock(ctx, workspaceID, func(ctx context.Context) error {
		s.mu.Lock()
		delete(s.records, workspaceID)
		s.mu.Unlock()
		if err := s.storage.Delete(ctx, StatusPath(workspaceID)); err != nil && !storage.IsNotFound(err) {
			return err
		}
		s.bus.Publish(workspaceID, &Update{WorkspaceID: workspaceID, At: s.now()})
		return nil
	})
	if err != nil {
		return cerr.WrapStorageDeleteError("status", err)
	}
	return nil
}

// Rehydrate loads persisted statuses without running their scripts. Polling
// resumes after one interval.
func (s *Service) Rehydrate(ctx context.Context, workspaceIDs []string) error {
	for _, id := range workspaceIDs {
		rec, err := storage.ReadJSON[Record](ctx, s.storage, StatusPath(id))
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return cerr.WrapStorageReadError("status", err)
		}
		s.mu.Lock()
		s.records[id] = rec
		s.mu.Unlock()
		s.publish(id, rec)
		s.startPoller(id, rec)
	}
	return nil
}

func (s *Service) Subscribe(workspaceID string) (string, <-chan *Update) {
	return s.bus.Subscribe(workspaceID)
}

func (s *Service) Unsubscribe(id string) {
	s.bus.Unsubscribe(id)
}

// Close stops every poller and waits for them.
func (s *Service) Close() {
	s.mu.Lock()
	for id, cancel := range s.pollers {
		cancel()
		delete(s.pollers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, workspaceID, script string) (*Status, error) {
	rt, err := s.runtimes.Runtime(workspaceID)
	if err != nil {
		return nil, err
	}
	if err := rt.Ready(ctx); err != nil {
		return nil, err
	}
	res, err := rt.Exec(ctx, script, runtime.ExecOptions{Timeout: scriptTimeout})
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to run status script", err)
	}
	if res.TimedOut {
		return nil, cerr.NewError(cerr.DeadlineExceeded, "status script timed out", nil)
	}
	if res.ExitCode != 0 {
		return nil, cerr.NewError(cerr.Internal, res.CombinedTail(runtime.OutputBudget),
			fmt.Errorf("status script exited with code %d", res.ExitCode))
	}
	status, err := ParseOutput(res.Stdout)
	if err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, err.Error(), err)
	}
	return status, nil
}

func (s *Service) save(ctx context.Context, workspaceID string, rec *Record) error {
	err := s.locks.WithLock(ctx, workspaceID, func(ctx context.Context) error {
		return storage.WriteJSON(ctx, s.storage, StatusPath(workspaceID), rec)
	})
	if err != nil {
		return cerr.WrapStorageWriteError("status", err)
	}
	s.mu.Lock()
	s.records[workspaceID] = rec
	s.mu.Unlock()
	return nil
}

func (s *Service) publish(workspaceID string, rec *Record) {
	s.bus.Publish(workspaceID, &Update{
		WorkspaceID: workspaceID,
		Status:      rec.Status,
		Error:       rec.Error,
		At:          rec.UpdatedAt,
	})
}

func (s *Service) startPoller(workspaceID string, rec *Record) {
	s.stopPoller(workspaceID)
	interval := rec.pollInterval()
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.pollers[workspaceID] = cancel
	s.mu.Unlock()

	s.wg.Go(func() {
		s.poll(ctx, workspaceID, rec.Script, interval)
	})
}

func (s *Service) stopPoller(workspaceID string) {
	s.mu.Lock()
	cancel, ok := s.pollers[workspaceID]
	delete(s.pollers, workspaceID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Service) poll(ctx context.Context, workspaceID, script string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rec := &Record{Script: script, PollIntervalMs: interval.Milliseconds(), UpdatedAt: s.now()}
		status, err := s.run(ctx, workspaceID, script)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.WarnContext(ctx, "status script failed", "workspace_id", workspaceID, "error", err)
			rec.Error = cerr.Message(err)
			if prev, ok := s.Get(workspaceID); ok {
				rec.Status = prev.Status
			}
		} else {
			rec.Status = status
		}
		if err := s.commitPolled(ctx, workspaceID, rec); err != nil {
			slog.WarnContext(ctx, "failed to persist status", "workspace_id", workspaceID, "error", err)
		}
	}
}

// commitPolled saves and publishes a poll result unless the poller was
// stopped. ctx is checked under the workspace lock, which Clear takes after
// cancelling, so a cleared status is never written back.
func (s *Service) commitPolled(ctx context.Context, workspaceID string, rec *Record) error {
	err := s.locks.WithLock(context.WithoutCancel(ctx), workspaceID, func(lctx context.Context) error {
		if ctx.Err() != nil {
			return nil
		}
		if err := storage.WriteJSON(lctx, s.storage, StatusPath(workspaceID), rec); err != nil {
			return err
		}
		s.mu.Lock()
		s.records[workspaceID] = rec
		s.mu.Unlock()
		s.publish(workspaceID, rec)
		return nil
	})
	if err != nil {
		return cerr.WrapStorageWriteError("status", err)
	}
	return nil
}
