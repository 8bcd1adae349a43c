package server

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"

	"connectrpc.com/connect"

	"github.com/kazz187/taskmux/internal/api"
	"github.com/kazz187/taskmux/pkg/cerr"
)

func (s *Server) registerWorkspaces(mux *http.ServeMux, opts []connect.HandlerOption) {
	unary(mux, api.WorkspaceOpenProcedure, func(ctx context.Context, req *api.OpenWorkspaceRequest) (*api.Workspace, error) {
		if req.Dir == "" {
			return nil, cerr.NewError(cerr.InvalidArgument, "dir is required", nil)
		}
		name := req.Name
		if name == "" {
			name = filepath.Base(req.Dir)
		}
		ws, err := s.deps.Workspaces.Open(ctx, name, req.Dir)
		if err != nil {
			return nil, err
		}
		return api.NewWorkspace(ws), nil
	}, opts)
	unary(mux, api.WorkspaceListProcedure, func(context.Context, *api.Empty) (*api.ListWorkspacesResponse, error) {
		return s.listWorkspaces(), nil
	}, opts)
	unary(mux, api.WorkspaceRemoveProcedure, func(ctx context.Context, req *api.WorkspaceRequest) (*api.RemoveWorkspaceResponse, error) {
		return s.removeWorkspace(ctx, req.WorkspaceID)
	}, opts)
}

// removeWorkspace tears down everything scoped to a root workspace before
// forgetting it. Task workspaces go away through task termination instead.
func (s *Server) removeWorkspace(ctx context.Context, id string) (*api.RemoveWorkspaceResponse, error) {
	if err := s.requireWorkspace(id); err != nil {
		return nil, err
	}
	if ws, _ := s.deps.Workspaces.Get(id); ws.ParentID != "" {
		return nil, cerr.NewError(cerr.FailedPrecondition, "workspace "+id+" belongs to a task; terminate the task instead", nil)
	}

	removed := s.deps.Tasks.RemoveWorkspaceTasks(ctx, id)
	s.deps.Harness.Stop(id)
	if err := s.deps.Status.Clear(ctx, id); err != nil {
		return nil, err
	}
	s.deps.Processes.RemoveWorkspace(ctx, id)
	if err := s.deps.Workspaces.Remove(ctx, id); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "workspace removed", "workspace_id", id, "tasks", len(removed))
	if removed == nil {
		removed = []string{}
	}
	return &api.RemoveWorkspaceResponse{RemovedTaskIDs: removed}, nil
}

func (s *Server) listWorkspaces() *api.ListWorkspacesResponse {
	all := s.deps.Workspaces.List()
	res := &api.ListWorkspacesResponse{Workspaces: make([]*api.Workspace, 0, len(all))}
	for _, ws := range all {
		res.Workspaces = append(res.Workspaces, api.NewWorkspace(ws))
	}
	return res
}
