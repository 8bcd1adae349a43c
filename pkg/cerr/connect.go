package cerr

import (
	"context"
	"errors"
	"net"

	"connectrpc.com/connect"
)

// ToConnectError converts an error returned by a handler into the
// *connect.Error sent on the wire. Only the Msg and Details of an *Error
// leave the process; the underlying error is attached to the request log.
func ToConnectError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.Err == "operation was canceled" {
		return NewError(Canceled, "connection closed", err).ConnectError()
	}
	return asError(ctx, err).ConnectError()
}

type connectInterceptor struct{}

// NewConnectInterceptor returns the handler interceptor applying
// ToConnectError to unary and server-streaming procedures.
func NewConnectInterceptor() connect.Interceptor {
	return connectInterceptor{}
}

func (connectInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		res, err := next(ctx, req)
		return res, ToConnectError(ctx, err)
	}
}

func (connectInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (connectInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		return ToConnectError(ctx, next(ctx, conn))
	}
}
