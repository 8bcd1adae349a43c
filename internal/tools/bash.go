package tools

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskmux/internal/bgprocess"
	"github.com/kazz187/taskmux/pkg/cerr"
)

const defaultBashTimeout = 2 * time.Minute

type BashArgs struct {
	Script          string   `json:"script"`
	DisplayName     string   `json:"display_name,omitempty"`
	RunInBackground bool     `json:"run_in_background,omitempty"`
	TimeoutSecs     *float64 `json:"timeout_secs,omitempty"`
	ToolCallID      string   `json:"tool_call_id,omitempty"`
}

type BashResult struct {
	Success bool `json:"success"`
	// Status is running for background processes and for foreground ones that
	// were moved to the background or outlived the timeout.
	Status    string `json:"status,omitempty"`
	ProcessID string `json:"processId,omitempty"`
	PID       int    `json:"pid,omitempty"`
	ExitCode  *int   `json:"exitCode,omitempty"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Bash starts script in the workspace. A foreground call waits until the
// process exits, is sent to the background, or the timeout passes.
func (t *Tools) Bash(ctx context.Context, workspaceID string, args BashArgs) *BashResult {
	if t.processes == nil {
		return &BashResult{Error: "background processes are not available"}
	}
	if strings.TrimSpace(args.Script) == "" {
		return &BashResult{Error: "script is required"}
	}

	toolCallID := args.ToolCallID
	if toolCallID == "" && !args.RunInBackground {
		// Foreground membership is keyed by tool-call id.
		toolCallID = ulid.Make().String()
	}

	subID, updates := t.processes.Subscribe(workspaceID)
	defer t.processes.Unsubscribe(subID)

	proc, err := t.processes.Spawn(ctx, workspaceID, bgprocess.SpawnRequest{
		Script:      args.Script,
		DisplayName: args.DisplayName,
		ToolCallID:  toolCallID,
		Foreground:  !args.RunInBackground,
	})
	if err != nil {
		return &BashResult{Error: cerr.Message(err)}
	}
	if args.RunInBackground {
		return &BashResult{Success: true, Status: string(proc.Status), ProcessID: proc.ID, PID: proc.PID}
	}

	timeout := defaultBashTimeout
	if args.TimeoutSecs != nil && *args.TimeoutSecs > 0 {
		timeout = time.Duration(*args.TimeoutSecs * float64(time.Second))
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		current := t.findProcess(workspaceID, proc.ID)
		if current == nil {
			return &BashResult{Error: "process disappeared"}
		}
		if current.Status == bgprocess.StatusExited || !current.Foreground {
			return t.bashResult(workspaceID, current)
		}
		select {
		case <-updates:
		case <-timer.C:
			return t.bashResult(workspaceID, current)
		case <-ctx.Done():
			return &BashResult{Status: string(current.Status), ProcessID: current.ID, PID: current.PID, Error: "Interrupted"}
		}
	}
}

func (t *Tools) findProcess(workspaceID, processID string) *bgprocess.Process {
	for _, p := range t.processes.Snapshot(workspaceID).Processes {
		if p.ID == processID {
			return p
		}
	}
	return nil
}

func (t *Tools) bashResult(workspaceID string, p *bgprocess.Process) *BashResult {
	out, _ := t.processes.Output(workspaceID, p.ID)
	res := &BashResult{
		Success:   p.Status == bgprocess.StatusRunning || (p.ExitCode != nil && *p.ExitCode == 0),
		Status:    string(p.Status),
		ProcessID: p.ID,
		PID:       p.PID,
		ExitCode:  p.ExitCode,
		Output:    out,
	}
	if !res.Success {
		res.Error = "command failed"
	}
	return res
}
