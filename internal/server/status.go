package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskmux/internal/api"
	"github.com/kazz187/taskmux/internal/statusset"
	"github.com/kazz187/taskmux/pkg/cerr"
)

func (s *Server) registerStatus(mux *http.ServeMux, opts []connect.HandlerOption) {
	unary(mux, api.StatusGetProcedure, func(_ context.Context, req *api.WorkspaceRequest) (*statusset.Record, error) {
		return s.status(req.WorkspaceID)
	}, opts)
	unary(mux, api.StatusClearProcedure, func(ctx context.Context, req *api.WorkspaceRequest) (*api.Empty, error) {
		if err := s.requireWorkspace(req.WorkspaceID); err != nil {
			return nil, err
		}
		if err := s.deps.Status.Clear(ctx, req.WorkspaceID); err != nil {
			return nil, err
		}
		return &api.Empty{}, nil
	}, opts)
	serverStream(mux, api.StatusWatchProcedure, s.watchStatus, opts)
}

func (s *Server) status(workspaceID string) (*statusset.Record, error) {
	if err := s.requireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	rec, ok := s.deps.Status.Get(workspaceID)
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, "no status set for workspace "+workspaceID, nil)
	}
	return rec, nil
}

// watchStatus replays the current status, if any, before live updates.
func (s *Server) watchStatus(ctx context.Context, req *api.WatchRequest, stream *connect.ServerStream[statusset.Update]) error {
	if err := s.requireWorkspace(req.WorkspaceID); err != nil {
		return err
	}
	id, ch := s.deps.Status.Subscribe(req.WorkspaceID)
	defer s.deps.Status.Unsubscribe(id)

	if rec, ok := s.deps.Status.Get(req.WorkspaceID); ok {
		err := stream.Send(&statusset.Update{WorkspaceID: req.WorkspaceID, Status: rec.Status, Error: rec.Error, At: rec.UpdatedAt})
		if err != nil {
			return err
		}
	}
	return forward(ctx, ch, stream)
}
