// Package runtime executes commands and file I/O on behalf of a workspace.
package runtime

import (
	"context"
	"time"
)

// OutputBudget is the default number of bytes of command output kept. Only
// the tail is retained since failure reasons are usually printed last.
const OutputBudget = 4000

type ExecOptions struct {
	Timeout     time.Duration
	Env         []string
	OutputLimit int
}

type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

func (r *ExecResult) Success() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// CombinedTail returns the tail of stdout followed by stderr, bounded to limit.
func (r *ExecResult) CombinedTail(limit int) string {
	switch {
	case r.Stderr == "":
		return Tail(r.Stdout, limit)
	case r.Stdout == "":
		return Tail(r.Stderr, limit)
	}
	return Tail(r.Stdout+"\n"+r.Stderr, limit)
}

type StartOptions struct {
	Env         []string
	OutputLimit int
}

// Process is a command started with Runtime.Start that outlives the call.
type Process interface {
	PID() int
	Done() <-chan struct{}
	// ExitCode reports the exit code once the process has exited.
	ExitCode() (int, bool)
	Output() string
	// Terminate sends SIGTERM to the process group, then SIGKILL after grace.
	Terminate(ctx context.Context, grace time.Duration) error
}

type Runtime interface {
	Ready(ctx context.Context) error
	Dir() string
	Exec(ctx context.Context, script string, opts ExecOptions) (*ExecResult, error)
	Start(ctx context.Context, script string, opts StartOptions) (Process, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}
