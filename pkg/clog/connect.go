package clog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/proto"
)

type connectConfig struct {
	attributes func(msg any) map[string]any
}

type ConnectOption func(*connectConfig)

// WithRequestAttributes derives attributes from each unary request message,
// such as the workspace it targets.
func WithRequestAttributes(fn func(msg any) map[string]any) ConnectOption {
	return func(cfg *connectConfig) {
		cfg.attributes = fn
	}
}

type connectInterceptor struct {
	cfg connectConfig
}

// NewSlogConnectInterceptor logs one line per unary call and two per server
// stream (on connect and on close), each carrying the request's context
// attributes.
func NewSlogConnectInterceptor(opts ...ConnectOption) connect.Interceptor {
	i := &connectInterceptor{}
	for _, opt := range opts {
		opt(&i.cfg)
	}
	return i
}

func specAttributes(spec connect.Spec) map[string]any {
	return map[string]any{
		"procedure":   spec.Procedure,
		"stream_type": spec.StreamType.String(),
	}
}

func (i *connectInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		ctx = ContextWithSlog(ctx)
		AddAttributes(ctx, specAttributes(req.Spec()))
		AddAttribute(ctx, "method", req.HTTPMethod())
		if i.cfg.attributes != nil {
			AddAttributes(ctx, i.cfg.attributes(req.Any()))
		}
		res, err := next(ctx, req)
		i.finish(ctx, start, err)
		return res, err
	}
}

func (i *connectInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *connectInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		ctx = ContextWithSlog(ctx)
		AddAttributes(ctx, specAttributes(conn.Spec()))
		slog.DebugContext(ctx, "Connected")
		err := next(ctx, conn)
		i.finish(ctx, start, err)
		return err
	}
}

func (i *connectInterceptor) finish(ctx context.Context, start time.Time, err error) {
	var connectErr *connect.Error
	if err != nil && !errors.As(err, &connectErr) {
		connectErr = connect.NewError(connect.CodeUnknown, err)
	}
	code := "ok"
	if connectErr != nil {
		code = connectErr.Code().String()
	}
	AddAttributes(ctx, map[string]any{
		"code":     code,
		"duration": time.Since(start),
	})
	if connectErr == nil {
		slog.InfoContext(ctx, "Finished")
		return
	}
	logConnectError(ctx, connectErr)
}

func logConnectError(ctx context.Context, connectErr *connect.Error) {
	if errDetails := connectErr.Details(); len(errDetails) > 0 {
		details := make([]proto.Message, 0, len(errDetails))
		for _, detail := range errDetails {
			val, err := detail.Value()
			if err != nil {
				slog.ErrorContext(ctx, "failed to convert detail value", ErrorAttributeKey, err)
				continue
			}
			details = append(details, val)
		}
		AddAttribute(ctx, "err_details", details)
	}
	slog.Log(ctx, ConnectCodeToLevel(connectErr.Code()), connectErr.Message())
}
