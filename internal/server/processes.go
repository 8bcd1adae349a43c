package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskmux/internal/api"
	"github.com/kazz187/taskmux/internal/bgprocess"
)

func (s *Server) registerProcesses(mux *http.ServeMux, opts []connect.HandlerOption) {
	p := s.deps.Processes
	unary(mux, api.ProcessListProcedure, func(_ context.Context, req *api.ListProcessesRequest) (*api.ListProcessesResponse, error) {
		if err := s.requireWorkspace(req.WorkspaceID); err != nil {
			return nil, err
		}
		return &api.ListProcessesResponse{Processes: p.List(req.WorkspaceID, req.RunningOnly)}, nil
	}, opts)
	unary(mux, api.ProcessOutputProcedure, func(_ context.Context, req *api.ProcessRequest) (*api.ProcessOutputResponse, error) {
		out, err := p.Output(req.WorkspaceID, req.ProcessID)
		if err != nil {
			return nil, err
		}
		return &api.ProcessOutputResponse{Output: out}, nil
	}, opts)
	unary(mux, api.ProcessTerminateProcedure, func(ctx context.Context, req *api.ProcessRequest) (*api.Empty, error) {
		if err := p.Terminate(ctx, req.WorkspaceID, req.ProcessID); err != nil {
			return nil, err
		}
		return &api.Empty{}, nil
	}, opts)
	unary(mux, api.ProcessSendToBackgroundProcedure, func(ctx context.Context, req *api.SendToBackgroundRequest) (*api.Empty, error) {
		if err := p.SendToBackground(ctx, req.WorkspaceID, req.ToolCallID); err != nil {
			return nil, err
		}
		return &api.Empty{}, nil
	}, opts)
	unary(mux, api.ProcessMessageSentProcedure, func(ctx context.Context, req *api.WorkspaceRequest) (*api.Empty, error) {
		if err := s.requireWorkspace(req.WorkspaceID); err != nil {
			return nil, err
		}
		p.OnMessageSent(ctx, req.WorkspaceID)
		return &api.Empty{}, nil
	}, opts)
	serverStream(mux, api.ProcessWatchProcedure, s.watchProcesses, opts)
}

// watchProcesses sends the current snapshot first, then every newer one.
func (s *Server) watchProcesses(ctx context.Context, req *api.WatchRequest, stream *connect.ServerStream[bgprocess.Snapshot]) error {
	if err := s.requireWorkspace(req.WorkspaceID); err != nil {
		return err
	}
	id, ch := s.deps.Processes.Subscribe(req.WorkspaceID)
	defer s.deps.Processes.Unsubscribe(id)

	current := s.deps.Processes.Snapshot(req.WorkspaceID)
	if err := stream.Send(current); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			if snap.Seq <= current.Seq {
				continue
			}
			current = snap
			if err := stream.Send(snap); err != nil {
				return err
			}
		}
	}
}
