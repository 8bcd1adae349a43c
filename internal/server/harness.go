package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskmux/internal/api"
	"github.com/kazz187/taskmux/internal/harness"
	"github.com/kazz187/taskmux/pkg/cerr"
)

func (s *Server) registerHarness(mux *http.ServeMux, opts []connect.HandlerOption) {
	h := s.deps.Harness
	unary(mux, api.HarnessAcceptDraftProcedure, func(ctx context.Context, req *api.AcceptDraftRequest) (*api.AcceptDraftResponse, error) {
		acc, err := h.AcceptDraft(ctx, req.WorkspaceID, []byte(req.Draft))
		if err != nil {
			return nil, err
		}
		res := &api.AcceptDraftResponse{
			Config:     acc.Config,
			Dropped:    acc.Dropped,
			FellBack:   acc.FellBack,
			ParseError: acc.ParseError,
		}
		if w := acc.Warning(); w != nil {
			res.Warning = cerr.Message(w)
		}
		return res, nil
	}, opts)
	unary(mux, api.HarnessValidateWritesProcedure, func(_ context.Context, req *api.ValidateWritesRequest) (*api.Empty, error) {
		if err := h.ValidateWrites(req.WorkspaceID, req.Paths); err != nil {
			return nil, err
		}
		return &api.Empty{}, nil
	}, opts)
	unary(mux, api.HarnessGetConfigProcedure, func(ctx context.Context, req *api.WorkspaceRequest) (*harness.Config, error) {
		return h.Config(ctx, req.WorkspaceID)
	}, opts)
	unary(mux, api.HarnessRunProcedure, func(ctx context.Context, req *api.RunHarnessRequest) (*harness.RunResult, error) {
		res, err := h.Run(ctx, req.WorkspaceID, req.AgentType)
		if err != nil && res == nil {
			return nil, err
		}
		// A stopped or failed loop still reports how far it got.
		return res, nil
	}, opts)
	unary(mux, api.HarnessStopProcedure, func(_ context.Context, req *api.WorkspaceRequest) (*api.StopHarnessResponse, error) {
		return &api.StopHarnessResponse{Stopped: h.Stop(req.WorkspaceID)}, nil
	}, opts)
	unary(mux, api.HarnessGetStateProcedure, func(ctx context.Context, req *api.WorkspaceRequest) (*harness.State, error) {
		if err := s.requireWorkspace(req.WorkspaceID); err != nil {
			return nil, err
		}
		return h.State(ctx, req.WorkspaceID)
	}, opts)
	unary(mux, api.HarnessResetStateProcedure, func(ctx context.Context, req *api.WorkspaceRequest) (*api.Empty, error) {
		if err := s.requireWorkspace(req.WorkspaceID); err != nil {
			return nil, err
		}
		if err := h.ResetState(ctx, req.WorkspaceID); err != nil {
			return nil, err
		}
		return &api.Empty{}, nil
	}, opts)
}
