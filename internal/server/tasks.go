package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskmux/internal/api"
	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/pkg/cerr"
)

func (s *Server) registerTasks(mux *http.ServeMux, opts []connect.HandlerOption) {
	unary(mux, api.TaskGetProcedure, func(_ context.Context, req *api.GetTaskRequest) (*api.Task, error) {
		t, ok := s.deps.Tasks.Get(req.TaskID)
		if !ok {
			return nil, cerr.NewError(cerr.NotFound, "task "+req.TaskID+" not found", nil)
		}
		return api.NewTask(t), nil
	}, opts)
	unary(mux, api.TaskSubmitReportProcedure, func(ctx context.Context, req *api.SubmitReportRequest) (*api.Empty, error) {
		if err := s.deps.Tasks.SubmitReport(ctx, req.TaskID, req.ReportMarkdown, req.Title); err != nil {
			return nil, err
		}
		return &api.Empty{}, nil
	}, opts)
	serverStream(mux, api.TaskWatchProcedure, s.watchTasks, opts)
}

func (s *Server) watchTasks(ctx context.Context, req *api.WatchRequest, stream *connect.ServerStream[task.Event]) error {
	var (
		id string
		ch <-chan *task.Event
	)
	if req.WorkspaceID == "" {
		id, ch = s.deps.Tasks.SubscribeAll()
	} else {
		id, ch = s.deps.Tasks.Subscribe(req.WorkspaceID)
	}
	defer s.deps.Tasks.Unsubscribe(id)
	return forward(ctx, ch, stream)
}

// forward relays messages until ctx ends or the subscription closes.
func forward[T any](ctx context.Context, ch <-chan *T, stream *connect.ServerStream[T]) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
