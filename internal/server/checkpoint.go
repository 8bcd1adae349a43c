package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskmux/internal/api"
	"github.com/kazz187/taskmux/internal/checkpoint"
)

func (s *Server) registerCheckpoint(mux *http.ServeMux, opts []connect.HandlerOption) {
	unary(mux, api.CheckpointCreateProcedure, func(ctx context.Context, req *api.CheckpointRequest) (*checkpoint.Result, error) {
		if err := s.requireWorkspace(req.WorkspaceID); err != nil {
			return nil, err
		}
		return s.deps.Checkpoints.Checkpoint(ctx, req.WorkspaceID, checkpoint.Options{
			MessageTemplate: req.MessageTemplate,
			ItemTitle:       req.ItemTitle,
			Iteration:       req.Iteration,
		})
	}, opts)
}
