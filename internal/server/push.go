package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskmux/internal/api"
	"github.com/kazz187/taskmux/pkg/cerr"
)

func (s *Server) registerPush(mux *http.ServeMux, opts []connect.HandlerOption) {
	unary(mux, api.PushGetVapidPublicKeyProcedure, func(context.Context, *api.Empty) (*api.VapidPublicKeyResponse, error) {
		if !s.env.VAPIDEnv.Enabled() {
			return nil, cerr.NewError(cerr.FailedPrecondition, "VAPID keys not configured", nil)
		}
		return &api.VapidPublicKeyResponse{PublicKey: s.env.VAPIDPublicKey}, nil
	}, opts)
	unary(mux, api.PushRegisterProcedure, func(ctx context.Context, req *api.RegisterPushRequest) (*api.RegisterPushResponse, error) {
		sub, err := s.deps.Subscriptions.Register(ctx, req.Endpoint, req.P256dhKey, req.AuthKey)
		if err != nil {
			return nil, err
		}
		return &api.RegisterPushResponse{ID: sub.ID}, nil
	}, opts)
	unary(mux, api.PushUnregisterProcedure, func(ctx context.Context, req *api.UnregisterPushRequest) (*api.Empty, error) {
		if err := s.deps.Subscriptions.Unregister(ctx, req.Endpoint); err != nil {
			return nil, err
		}
		return &api.Empty{}, nil
	}, opts)
}
