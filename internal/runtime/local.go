package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/kazz187/taskmux/pkg/cerr"
)

const killWaitDelay = 2 * time.Second

// Local runs commands with `sh -c` in dir. Every command gets its own process
// group so cancelling it also stops anything it spawned.
type Local struct {
	dir   string
	shell string
}

func NewLocal(dir string) *Local {
	return &Local{dir: dir, shell: "sh"}
}

func (l *Local) Dir() string { return l.dir }

func (l *Local) Ready(ctx context.Context) error {
	info, err := os.Stat(l.dir)
	if err != nil {
		return cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("workspace dir %s is not available", l.dir), err)
	}
	if !info.IsDir() {
		return cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("workspace path %s is not a directory", l.dir), nil)
	}
	if _, err := exec.LookPath(l.shell); err != nil {
		return cerr.NewError(cerr.Unavailable, "shell not found", err)
	}
	return nil
}

func (l *Local) command(ctx context.Context, script string, env []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, l.shell, "-c", script)
	cmd.Dir = l.dir
	cmd.Env = append(os.Environ(), env...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = killWaitDelay
	return cmd
}

// Exec runs script to completion. A non-zero exit is reported in the result,
// not as an error. Hitting opts.Timeout sets TimedOut; cancelling ctx returns
// ctx.Err().
func (l *Local) Exec(ctx context.Context, script string, opts ExecOptions) (*ExecResult, error) {
	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	stdout := NewTailBuffer(opts.OutputLimit)
	stderr := NewTailBuffer(opts.OutputLimit)
	cmd := l.command(runCtx, script, opts.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, cerr.NewError(cerr.Unavailable, "failed to run command", err)
	}
	return res, nil
}

// Start launches script detached from ctx; the process keeps running after
// the call returns and is stopped only through Terminate.
func (l *Local) Start(ctx context.Context, script string, opts StartOptions) (Process, error) {
	output := NewTailBuffer(opts.OutputLimit)
	cmd := exec.Command(l.shell, "-c", script)
	cmd.Dir = l.dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Stdout = output
	cmd.Stderr = output
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, cerr.NewError(cerr.Unavailable, "failed to start process", err)
	}

	p := &localProcess{
		cmd:    cmd,
		output: output,
		done:   make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (l *Local) path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(l.dir, filepath.Clean(rel))
}

func (l *Local) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(l.path(path))
}

func (l *Local) WriteFile(_ context.Context, path string, data []byte) error {
	full := l.path(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(full, data, 0o644)
}

type localProcess struct {
	cmd    *exec.Cmd
	output *TailBuffer
	done   chan struct{}

	mu       sync.Mutex
	exitCode int
}

func (p *localProcess) wait() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}
	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()
	close(p.done)
}

func (p *localProcess) PID() int { return p.cmd.Process.Pid }

func (p *localProcess) Done() <-chan struct{} { return p.done }

func (p *localProcess) ExitCode() (int, bool) {
	select {
	case <-p.done:
	default:
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, true
}

func (p *localProcess) Output() string { return p.output.String() }

func (p *localProcess) Terminate(ctx context.Context, grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := terminateGroup(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := killGroup(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
