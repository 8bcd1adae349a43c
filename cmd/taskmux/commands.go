package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kazz187/taskmux/internal/api"
	"github.com/kazz187/taskmux/internal/bgprocess"
	"github.com/kazz187/taskmux/internal/client"
	"github.com/kazz187/taskmux/internal/statusset"
	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/internal/tools"
)

func runClientCommand(ctx context.Context, command string) error {
	c := newClient()

	switch command {
	case wsOpenCmd.FullCommand():
		dir, err := filepath.Abs(*wsOpenDir)
		if err != nil {
			return err
		}
		return printResult(c.OpenWorkspace(ctx, *wsOpenName, dir))
	case wsListCmd.FullCommand():
		return printResult(c.ListWorkspaces(ctx))
	case wsRmCmd.FullCommand():
		return printResult(c.RemoveWorkspace(ctx, *wsRmID))
	case watchCmd.FullCommand():
		return c.WatchTasks(ctx, *workspace, func(ev *task.Event) error {
			printTaskEvent(ev)
			return nil
		})
	case decodeCmd.FullCommand():
		raw, err := readInput(*decodeFile)
		if err != nil {
			return err
		}
		return printResult(c.DecodeResult(ctx, *decodeKind, raw))
	case pushPublicCmd.FullCommand():
		key, err := c.VapidPublicKey(ctx)
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	}

	if *workspace == "" {
		return fmt.Errorf("--workspace or TASKMUX_WORKSPACE_ID is required")
	}
	return runWorkspaceCommand(ctx, c, *workspace, command)
}

func runWorkspaceCommand(ctx context.Context, c *client.Client, ws, command string) error {
	switch command {
	case taskCmd.FullCommand():
		return printResult(c.Task(ctx, ws, tools.TaskArgs{Prompt: *taskPrompt, Title: *taskTitle, AgentType: *taskAgentType}))
	case awaitCmd.FullCommand():
		args := tools.TaskAwaitArgs{TaskIDs: *awaitIDs}
		if awaitTimeoutSet {
			args.TimeoutSecs = awaitTimeout
		}
		return printResult(c.TaskAwait(ctx, ws, args))
	case listCmd.FullCommand():
		return printResult(c.TaskList(ctx, ws, tools.TaskListArgs{Statuses: *listStatuses}))
	case terminateCmd.FullCommand():
		return printResult(c.TaskTerminate(ctx, ws, tools.TaskTerminateArgs{TaskIDs: *terminateIDs}))
	case bashCmd.FullCommand():
		args := tools.BashArgs{Script: *bashScript, DisplayName: *bashName, RunInBackground: *bashBackground}
		if bashTimeoutSet {
			args.TimeoutSecs = bashTimeout
		}
		return printResult(c.Bash(ctx, ws, args))

	case psListCmd.FullCommand():
		return printResult(c.ListProcesses(ctx, ws, *psListRunning))
	case psOutputCmd.FullCommand():
		out, err := c.ProcessOutput(ctx, ws, *psOutputID)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	case psKillCmd.FullCommand():
		return c.TerminateProcess(ctx, ws, *psKillID)
	case psBackgroundCmd.FullCommand():
		return c.SendToBackground(ctx, ws, *psBackgroundID)
	case psWatchCmd.FullCommand():
		return c.WatchProcesses(ctx, ws, func(snap *bgprocess.Snapshot) error {
			printSnapshot(snap)
			return nil
		})

	case statusSetCmd.FullCommand():
		return printResult(c.StatusSet(ctx, ws, tools.StatusSetArgs{Script: *statusScript, PollIntervalSecs: *statusPoll}))
	case statusGetCmd.FullCommand():
		return printResult(c.Status(ctx, ws))
	case statusClearCmd.FullCommand():
		return c.ClearStatus(ctx, ws)
	case statusWatchCmd.FullCommand():
		return c.WatchStatus(ctx, ws, func(u *statusset.Update) error {
			printStatusUpdate(u)
			return nil
		})

	case harnessAcceptCmd.FullCommand():
		draft, err := readInput(*harnessDraftFile)
		if err != nil {
			return err
		}
		return printResult(c.AcceptDraft(ctx, ws, string(draft)))
	case harnessConfigCmd.FullCommand():
		return printResult(c.HarnessConfig(ctx, ws))
	case harnessRunCmd.FullCommand():
		return printResult(c.RunHarness(ctx, ws, *harnessAgentType))
	case harnessStopCmd.FullCommand():
		stopped, err := c.StopHarness(ctx, ws)
		if err != nil {
			return err
		}
		if !stopped {
			fmt.Println("no harness loop running")
		}
		return nil
	case harnessStateCmd.FullCommand():
		return printResult(c.HarnessState(ctx, ws))
	case harnessResetCmd.FullCommand():
		return c.ResetHarnessState(ctx, ws)

	case checkpointCmd.FullCommand():
		return printResult(c.Checkpoint(ctx, &api.CheckpointRequest{
			WorkspaceID:     ws,
			MessageTemplate: *checkpointMessage,
			ItemTitle:       *checkpointItem,
			Iteration:       *checkpointIteration,
		}))
	}
	return fmt.Errorf("unknown command %q", command)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
