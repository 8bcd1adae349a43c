package cerr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kazz187/taskmux/pkg/clog"
)

// The dashboard routes do not write to the ResponseWriter themselves. They
// leave a value or an error in the request context and the middleware
// renders it once the handler returns.

type replyKey struct{}

type reply struct {
	body any
	err  error
}

func replyFromContext(ctx context.Context) *reply {
	r, _ := ctx.Value(replyKey{}).(*reply)
	return r
}

// RespondJSON sets the value rendered as the 200 response body.
func RespondJSON(ctx context.Context, body any) {
	if r := replyFromContext(ctx); r != nil {
		r.body = body
	}
}

// RespondError sets the error rendered instead of a body. Errors that are
// not an *Error are reported as unknown.
func RespondError(ctx context.Context, err error) {
	if r := replyFromContext(ctx); r != nil {
		r.err = err
	}
}

func NewJSONChiMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			r := &reply{}
			ctx := context.WithValue(req.Context(), replyKey{}, r)
			next.ServeHTTP(rw, req.WithContext(ctx))
			r.render(ctx, rw)
		})
	}
}

type httpError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func (r *reply) render(ctx context.Context, rw http.ResponseWriter) {
	if r.err == nil {
		if r.body != nil {
			writeJSON(ctx, rw, r.body)
		}
		return
	}
	writeJSONError(ctx, rw, asError(ctx, r.err))
}

// asError resolves err to the *Error sent to the caller and records the
// original on the request log.
func asError(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(err, context.Canceled) && !IsCode(err, Canceled):
		return NewError(Canceled, "connection closed", err)
	case errors.Is(err, context.DeadlineExceeded) && !IsCode(err, DeadlineExceeded):
		clog.AddError(ctx, err)
		return NewError(DeadlineExceeded, "deadline exceeded", err)
	}
	clog.AddError(ctx, err)
	var cErr *Error
	if errors.As(err, &cErr) {
		if cErr.Stack != "" {
			clog.AddStack(ctx, cErr.Stack)
		}
		return cErr
	}
	return NewError(Unknown, "unknown error", err)
}

func encodeJSON(v any) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	return buf, enc.Encode(v)
}

func writeJSON(ctx context.Context, rw http.ResponseWriter, body any) {
	buf, err := encodeJSON(body)
	if err != nil {
		writeJSONError(ctx, rw, NewError(Internal, "server error", err))
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	if _, err := rw.Write(buf.Bytes()); err != nil {
		clog.AddError(ctx, NewError(Internal, "server error", err))
	}
}

func writeJSONError(ctx context.Context, rw http.ResponseWriter, e *Error) {
	buf, err := encodeJSON(httpError{Code: e.Code.String(), Message: e.Msg, Details: e.DetailMessages()})
	if err != nil {
		buf = bytes.NewBufferString(`{"code":"internal","message":"server error"}` + "\n")
		e.Err = errors.Join(e.Err, err)
		clog.AddError(ctx, e)
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(e.Code.HTTPCode())
	if _, err := rw.Write(buf.Bytes()); err != nil {
		e.Err = errors.Join(e.Err, err)
		clog.AddError(ctx, e)
	}
}
