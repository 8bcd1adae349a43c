package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kazz187/taskmux/internal/runtime"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/mutexmap"
	"github.com/kazz187/taskmux/pkg/storage"
)

const (
	lastCheckpointFile    = "harness-last-checkpoint.json"
	commitMessageEnv      = "TASKMUX_COMMIT_MESSAGE"
	defaultCommandTimeout = 2 * time.Minute
)

type RuntimeResolver interface {
	Runtime(workspaceID string) (runtime.Runtime, error)
}

type Service struct {
	runtimes RuntimeResolver
	storage  storage.Storage
	locks    *mutexmap.MutexMap[string]
	timeout  time.Duration
	now      func() time.Time
}

func NewService(runtimes RuntimeResolver, s storage.Storage, locks *mutexmap.MutexMap[string]) *Service {
	return &Service{
		runtimes: runtimes,
		storage:  s,
		locks:    locks,
		timeout:  defaultCommandTimeout,
		now:      time.Now,
	}
}

func LastCheckpointPath(workspaceID string) string {
	return fmt.Sprintf("%s/%s", workspaceID, lastCheckpointFile)
}

func GitLockKey(workspaceID string) string {
	return "git:" + workspaceID
}

// Checkpoint stages and commits every change in the workspace. A clean tree
// is a no-op result, never an error. The result is persisted as the last
// checkpoint whether or not anything was committed.
func (s *Service) Checkpoint(ctx context.Context, workspaceID string, opts Options) (*Result, error) {
	rt, err := s.runtimes.Runtime(workspaceID)
	if err != nil {
		return nil, err
	}
	if err := rt.Ready(ctx); err != nil {
		return nil, err
	}

	result, err := mutexmap.Do(ctx, s.locks, GitLockKey(workspaceID), func(ctx context.Context) (*Result, error) {
		return s.commit(ctx, rt, workspaceID, opts)
	})
	if err != nil {
		return nil, err
	}

	s.persist(ctx, workspaceID, result)
	return result, nil
}

func (s *Service) commit(ctx context.Context, rt runtime.Runtime, workspaceID string, opts Options) (*Result, error) {
	dirty, err := s.isDirty(ctx, rt)
	if err != nil {
		return nil, err
	}
	if !dirty {
		return &Result{CheckpointedAt: s.now()}, nil
	}

	msg := RenderMessage(opts.MessageTemplate, MessageVars{
		Item:        opts.ItemTitle,
		Iteration:   opts.Iteration,
		WorkspaceID: workspaceID,
	})

	if _, err := s.git(ctx, rt, "git add -A", nil); err != nil {
		return nil, err
	}
	committed, err := s.git(ctx, rt, `git commit -q -m "$`+commitMessageEnv+`"`, []string{commitMessageEnv + "=" + msg})
	if err != nil {
		return nil, err
	}
	head, err := s.git(ctx, rt, "git rev-parse HEAD", nil)
	if err != nil {
		return nil, err
	}
	sha := strings.TrimSpace(head.Stdout)

	dirtyAfter, err := s.isDirty(ctx, rt)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "checkpoint committed", "workspace_id", workspaceID, "commit_sha", sha, "dirty_after", dirtyAfter)
	return &Result{
		Committed:      true,
		DirtyBefore:    true,
		DirtyAfter:     dirtyAfter,
		CommitSHA:      &sha,
		CommitMessage:  &msg,
		Stdout:         runtime.Tail(committed.Stdout, runtime.OutputBudget),
		Stderr:         runtime.Tail(committed.Stderr, runtime.OutputBudget),
		CheckpointedAt: s.now(),
	}, nil
}

func (s *Service) isDirty(ctx context.Context, rt runtime.Runtime) (bool, error) {
	res, err := s.git(ctx, rt, "git status --porcelain", nil)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// git runs script and turns a failure into an Internal error whose message
// is the tail of the command's output.
func (s *Service) git(ctx context.Context, rt runtime.Runtime, script string, env []string) (*runtime.ExecResult, error) {
	res, err := rt.Exec(ctx, script, runtime.ExecOptions{Timeout: s.timeout, Env: env})
	if err != nil {
		if ctx.Err() != nil {
			return nil, cerr.NewError(cerr.Canceled, "checkpoint interrupted", err)
		}
		return nil, err
	}
	if res.TimedOut {
		return nil, cerr.NewError(cerr.DeadlineExceeded, fmt.Sprintf("%s timed out", script), nil)
	}
	if res.ExitCode != 0 {
		tail := res.CombinedTail(runtime.OutputBudget)
		if tail == "" {
			tail = fmt.Sprintf("%s exited with code %d", script, res.ExitCode)
		}
		return nil, cerr.NewError(cerr.Internal, tail, fmt.Errorf("%s: exit code %d", script, res.ExitCode))
	}
	return res, nil
}

// persist is best-effort: the commit already happened.
func (s *Service) persist(ctx context.Context, workspaceID string, result *Result) {
	err := s.locks.WithLock(ctx, workspaceID, func(ctx context.Context) error {
		return storage.WriteJSON(ctx, s.storage, LastCheckpointPath(workspaceID), result)
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to persist last checkpoint", "workspace_id", workspaceID, "error", err)
	}
}

// LastCheckpoint returns the persisted result of the most recent Checkpoint.
func (s *Service) LastCheckpoint(ctx context.Context, workspaceID string) (*Result, error) {
	result, err := storage.ReadJSON[Result](ctx, s.storage, LastCheckpointPath(workspaceID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("last checkpoint", err)
	}
	return result, nil
}
