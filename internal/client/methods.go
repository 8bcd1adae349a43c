package client

import (
	"context"

	"github.com/kazz187/taskmux/internal/api"
	"github.com/kazz187/taskmux/internal/bgprocess"
	"github.com/kazz187/taskmux/internal/checkpoint"
	"github.com/kazz187/taskmux/internal/harness"
	"github.com/kazz187/taskmux/internal/statusset"
	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/internal/tools"
)

func (c *Client) OpenWorkspace(ctx context.Context, name, dir string) (*api.Workspace, error) {
	return call[api.OpenWorkspaceRequest, api.Workspace](ctx, c, api.WorkspaceOpenProcedure, &api.OpenWorkspaceRequest{Name: name, Dir: dir})
}

func (c *Client) ListWorkspaces(ctx context.Context) ([]*api.Workspace, error) {
	res, err := call[api.Empty, api.ListWorkspacesResponse](ctx, c, api.WorkspaceListProcedure, &api.Empty{})
	if err != nil {
		return nil, err
	}
	return res.Workspaces, nil
}

// RemoveWorkspace returns the ids of the tasks that were removed with it.
func (c *Client) RemoveWorkspace(ctx context.Context, workspaceID string) ([]string, error) {
	res, err := call[api.WorkspaceRequest, api.RemoveWorkspaceResponse](ctx, c, api.WorkspaceRemoveProcedure, &api.WorkspaceRequest{WorkspaceID: workspaceID})
	if err != nil {
		return nil, err
	}
	return res.RemovedTaskIDs, nil
}

func (c *Client) Task(ctx context.Context, workspaceID string, args tools.TaskArgs) (*tools.TaskResult, error) {
	return call[api.ToolRequest[tools.TaskArgs], tools.TaskResult](ctx, c, api.ToolTaskProcedure,
		&api.ToolRequest[tools.TaskArgs]{WorkspaceID: workspaceID, Args: args})
}

func (c *Client) TaskAwait(ctx context.Context, workspaceID string, args tools.TaskAwaitArgs) (*tools.TaskAwaitResult, error) {
	return call[api.ToolRequest[tools.TaskAwaitArgs], tools.TaskAwaitResult](ctx, c, api.ToolTaskAwaitProcedure,
		&api.ToolRequest[tools.TaskAwaitArgs]{WorkspaceID: workspaceID, Args: args})
}

func (c *Client) TaskList(ctx context.Context, workspaceID string, args tools.TaskListArgs) (*tools.TaskListResult, error) {
	return call[api.ToolRequest[tools.TaskListArgs], tools.TaskListResult](ctx, c, api.ToolTaskListProcedure,
		&api.ToolRequest[tools.TaskListArgs]{WorkspaceID: workspaceID, Args: args})
}

func (c *Client) TaskTerminate(ctx context.Context, workspaceID string, args tools.TaskTerminateArgs) (*tools.TaskTerminateResult, error) {
	return call[api.ToolRequest[tools.TaskTerminateArgs], tools.TaskTerminateResult](ctx, c, api.ToolTaskTerminateProcedure,
		&api.ToolRequest[tools.TaskTerminateArgs]{WorkspaceID: workspaceID, Args: args})
}

func (c *Client) Bash(ctx context.Context, workspaceID string, args tools.BashArgs) (*tools.BashResult, error) {
	return call[api.ToolRequest[tools.BashArgs], tools.BashResult](ctx, c, api.ToolBashProcedure,
		&api.ToolRequest[tools.BashArgs]{WorkspaceID: workspaceID, Args: args})
}

func (c *Client) StatusSet(ctx context.Context, workspaceID string, args tools.StatusSetArgs) (*tools.StatusSetResult, error) {
	return call[api.ToolRequest[tools.StatusSetArgs], tools.StatusSetResult](ctx, c, api.ToolStatusSetProcedure,
		&api.ToolRequest[tools.StatusSetArgs]{WorkspaceID: workspaceID, Args: args})
}

func (c *Client) DecodeResult(ctx context.Context, kind string, raw []byte) (*api.DecodeResultResponse, error) {
	return call[api.DecodeResultRequest, api.DecodeResultResponse](ctx, c, api.ToolDecodeResultProcedure,
		&api.DecodeResultRequest{Kind: kind, Raw: raw})
}

func (c *Client) GetTask(ctx context.Context, taskID string) (*api.Task, error) {
	return call[api.GetTaskRequest, api.Task](ctx, c, api.TaskGetProcedure, &api.GetTaskRequest{TaskID: taskID})
}

func (c *Client) SubmitReport(ctx context.Context, taskID, reportMarkdown, title string) error {
	_, err := call[api.SubmitReportRequest, api.Empty](ctx, c, api.TaskSubmitReportProcedure,
		&api.SubmitReportRequest{TaskID: taskID, ReportMarkdown: reportMarkdown, Title: title})
	return err
}

// WatchTasks streams task events of workspaceID, or of every workspace when
// it is empty.
func (c *Client) WatchTasks(ctx context.Context, workspaceID string, fn func(*task.Event) error) error {
	return watch(ctx, c, api.TaskWatchProcedure, &api.WatchRequest{WorkspaceID: workspaceID}, fn)
}

func (c *Client) ListProcesses(ctx context.Context, workspaceID string, runningOnly bool) ([]*bgprocess.Process, error) {
	res, err := call[api.ListProcessesRequest, api.ListProcessesResponse](ctx, c, api.ProcessListProcedure,
		&api.ListProcessesRequest{WorkspaceID: workspaceID, RunningOnly: runningOnly})
	if err != nil {
		return nil, err
	}
	return res.Processes, nil
}

func (c *Client) ProcessOutput(ctx context.Context, workspaceID, processID string) (string, error) {
	res, err := call[api.ProcessRequest, api.ProcessOutputResponse](ctx, c, api.ProcessOutputProcedure,
		&api.ProcessRequest{WorkspaceID: workspaceID, ProcessID: processID})
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

func (c *Client) TerminateProcess(ctx context.Context, workspaceID, processID string) error {
	_, err := call[api.ProcessRequest, api.Empty](ctx, c, api.ProcessTerminateProcedure,
		&api.ProcessRequest{WorkspaceID: workspaceID, ProcessID: processID})
	return err
}

func (c *Client) SendToBackground(ctx context.Context, workspaceID, toolCallID string) error {
	_, err := call[api.SendToBackgroundRequest, api.Empty](ctx, c, api.ProcessSendToBackgroundProcedure,
		&api.SendToBackgroundRequest{WorkspaceID: workspaceID, ToolCallID: toolCallID})
	return err
}

func (c *Client) MessageSent(ctx context.Context, workspaceID string) error {
	_, err := call[api.WorkspaceRequest, api.Empty](ctx, c, api.ProcessMessageSentProcedure, &api.WorkspaceRequest{WorkspaceID: workspaceID})
	return err
}

func (c *Client) WatchProcesses(ctx context.Context, workspaceID string, fn func(*bgprocess.Snapshot) error) error {
	return watch(ctx, c, api.ProcessWatchProcedure, &api.WatchRequest{WorkspaceID: workspaceID}, fn)
}

func (c *Client) AcceptDraft(ctx context.Context, workspaceID, draft string) (*api.AcceptDraftResponse, error) {
	return call[api.AcceptDraftRequest, api.AcceptDraftResponse](ctx, c, api.HarnessAcceptDraftProcedure,
		&api.AcceptDraftRequest{WorkspaceID: workspaceID, Draft: draft})
}

func (c *Client) ValidateWrites(ctx context.Context, workspaceID string, paths []string) error {
	_, err := call[api.ValidateWritesRequest, api.Empty](ctx, c, api.HarnessValidateWritesProcedure,
		&api.ValidateWritesRequest{WorkspaceID: workspaceID, Paths: paths})
	return err
}

func (c *Client) HarnessConfig(ctx context.Context, workspaceID string) (*harness.Config, error) {
	return call[api.WorkspaceRequest, harness.Config](ctx, c, api.HarnessGetConfigProcedure, &api.WorkspaceRequest{WorkspaceID: workspaceID})
}

func (c *Client) RunHarness(ctx context.Context, workspaceID, agentType string) (*harness.RunResult, error) {
	return call[api.RunHarnessRequest, harness.RunResult](ctx, c, api.HarnessRunProcedure,
		&api.RunHarnessRequest{WorkspaceID: workspaceID, AgentType: agentType})
}

func (c *Client) StopHarness(ctx context.Context, workspaceID string) (bool, error) {
	res, err := call[api.WorkspaceRequest, api.StopHarnessResponse](ctx, c, api.HarnessStopProcedure, &api.WorkspaceRequest{WorkspaceID: workspaceID})
	if err != nil {
		return false, err
	}
	return res.Stopped, nil
}

func (c *Client) HarnessState(ctx context.Context, workspaceID string) (*harness.State, error) {
	return call[api.WorkspaceRequest, harness.State](ctx, c, api.HarnessGetStateProcedure, &api.WorkspaceRequest{WorkspaceID: workspaceID})
}

func (c *Client) ResetHarnessState(ctx context.Context, workspaceID string) error {
	_, err := call[api.WorkspaceRequest, api.Empty](ctx, c, api.HarnessResetStateProcedure, &api.WorkspaceRequest{WorkspaceID: workspaceID})
	return err
}

func (c *Client) Checkpoint(ctx context.Context, req *api.CheckpointRequest) (*checkpoint.Result, error) {
	return call[api.CheckpointRequest, checkpoint.Result](ctx, c, api.CheckpointCreateProcedure, req)
}

func (c *Client) Status(ctx context.Context, workspaceID string) (*statusset.Record, error) {
	return call[api.WorkspaceRequest, statusset.Record](ctx, c, api.StatusGetProcedure, &api.WorkspaceRequest{WorkspaceID: workspaceID})
}

func (c *Client) ClearStatus(ctx context.Context, workspaceID string) error {
	_, err := call[api.WorkspaceRequest, api.Empty](ctx, c, api.StatusClearProcedure, &api.WorkspaceRequest{WorkspaceID: workspaceID})
	return err
}

func (c *Client) WatchStatus(ctx context.Context, workspaceID string, fn func(*statusset.Update) error) error {
	return watch(ctx, c, api.StatusWatchProcedure, &api.WatchRequest{WorkspaceID: workspaceID}, fn)
}

func (c *Client) VapidPublicKey(ctx context.Context) (string, error) {
	res, err := call[api.Empty, api.VapidPublicKeyResponse](ctx, c, api.PushGetVapidPublicKeyProcedure, &api.Empty{})
	if err != nil {
		return "", err
	}
	return res.PublicKey, nil
}

func (c *Client) RegisterPush(ctx context.Context, req *api.RegisterPushRequest) (string, error) {
	res, err := call[api.RegisterPushRequest, api.RegisterPushResponse](ctx, c, api.PushRegisterProcedure, req)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c *Client) UnregisterPush(ctx context.Context, endpoint string) error {
	_, err := call[api.UnregisterPushRequest, api.Empty](ctx, c, api.PushUnregisterProcedure, &api.UnregisterPushRequest{Endpoint: endpoint})
	return err
}
