package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskmux/internal/api"
	"github.com/kazz187/taskmux/internal/toolresult"
	"github.com/kazz187/taskmux/internal/tools"
	"github.com/kazz187/taskmux/pkg/cerr"
)

func (s *Server) registerTools(mux *http.ServeMux, opts []connect.HandlerOption) {
	t := s.deps.Tools
	unary(mux, api.ToolTaskProcedure, func(ctx context.Context, req *api.ToolRequest[tools.TaskArgs]) (*tools.TaskResult, error) {
		if err := s.requireWorkspace(req.WorkspaceID); err != nil {
			return nil, err
		}
		return t.Task(ctx, req.WorkspaceID, req.Args), nil
	}, opts)
	unary(mux, api.ToolTaskAwaitProcedure, func(ctx context.Context, req *api.ToolRequest[tools.TaskAwaitArgs]) (*tools.TaskAwaitResult, error) {
		if err := s.requireWorkspace(req.WorkspaceID); err != nil {
			return nil, err
		}
		return t.TaskAwait(ctx, req.WorkspaceID, req.Args), nil
	}, opts)
	unary(mux, api.ToolTaskListProcedure, func(_ context.Context, req *api.ToolRequest[tools.TaskListArgs]) (*tools.TaskListResult, error) {
		if err := s.requireWorkspace(req.WorkspaceID); err != nil {
			return nil, err
		}
		return t.TaskList(req.WorkspaceID, req.Args), nil
	}, opts)
	unary(mux, api.ToolTaskTerminateProcedure, func(ctx context.Context, req *api.ToolRequest[tools.TaskTerminateArgs]) (*tools.TaskTerminateResult, error) {
		if err := s.requireWorkspace(req.WorkspaceID); err != nil {
			return nil, err
		}
		return t.TaskTerminate(ctx, req.WorkspaceID, req.Args), nil
	}, opts)
	unary(mux, api.ToolBashProcedure, func(ctx context.Context, req *api.ToolRequest[tools.BashArgs]) (*tools.BashResult, error) {
		if err := s.requireWorkspace(req.WorkspaceID); err != nil {
			return nil, err
		}
		return t.Bash(ctx, req.WorkspaceID, req.Args), nil
	}, opts)
	unary(mux, api.ToolStatusSetProcedure, func(ctx context.Context, req *api.ToolRequest[tools.StatusSetArgs]) (*tools.StatusSetResult, error) {
		if err := s.requireWorkspace(req.WorkspaceID); err != nil {
			return nil, err
		}
		return t.StatusSet(ctx, req.WorkspaceID, req.Args), nil
	}, opts)
	unary(mux, api.ToolDecodeResultProcedure, decodeResult, opts)
}

func decodeResult(_ context.Context, req *api.DecodeResultRequest) (*api.DecodeResultResponse, error) {
	res := &api.DecodeResultResponse{}
	var err error
	switch req.Kind {
	case "bash":
		res.Bash, res.Shape, err = toolresult.DecodeBash(req.Raw)
	case "task":
		res.Task, res.Shape, err = toolresult.DecodeTask(req.Raw)
	default:
		return nil, cerr.NewError(cerr.InvalidArgument, `kind must be "bash" or "task"`, nil)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
