package clog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestAttributesHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewAttributesHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := ContextWithSlog(context.Background())
	AddAttributes(ctx, map[string]any{"task_id": "t1"})
	AddAttribute(ctx, "workspace_id", "ws")
	logger.InfoContext(ctx, "hello")

	m := decodeLine(t, &buf)
	assert.Equal(t, "hello", m["msg"])
	assert.Equal(t, "t1", m["task_id"])
	assert.Equal(t, "ws", m["workspace_id"])
}

func TestAttributesHandler_NoContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewAttributesHandler(slog.NewJSONHandler(&buf, nil))).With("k", "v")
	logger.InfoContext(context.Background(), "plain")

	m := decodeLine(t, &buf)
	assert.Equal(t, "v", m["k"])
	assert.NotContains(t, m, "task_id")
}

func TestContextAttributes(t *testing.T) {
	t.Run("without slog context", func(t *testing.T) {
		ctx := context.Background()
		AddAttribute(ctx, "k", "v")
		assert.Empty(t, GetAttribute[string](ctx, "k"))
		assert.Nil(t, GetAttributes(ctx))
		assert.NoError(t, GetError(ctx))
	})

	t.Run("type mismatch yields zero value", func(t *testing.T) {
		ctx := ContextWithSlog(context.Background())
		AddAttribute(ctx, "k", 42)
		assert.Empty(t, GetAttribute[string](ctx, "k"))
		assert.Equal(t, 42, GetAttribute[int](ctx, "k"))
	})

	t.Run("nested maps merge", func(t *testing.T) {
		ctx := ContextWithSlog(context.Background())
		AddAttributes(ctx, map[string]any{"req": map[string]any{"a": 1}})
		AddAttributes(ctx, map[string]any{"req": map[string]any{"b": 2}})
		assert.Equal(t, map[string]any{"a": 1, "b": 2}, GetAttributes(ctx)["req"])
	})

	t.Run("error and stack", func(t *testing.T) {
		ctx := ContextWithSlog(context.Background())
		err := errors.New("boom")
		AddError(ctx, err)
		AddStack(ctx, "main.go:1")
		assert.Equal(t, err, GetError(ctx))
		assert.Equal(t, "main.go:1", GetStack(ctx))
	})

	t.Run("returned attributes are a copy", func(t *testing.T) {
		ctx := ContextWithSlog(context.Background())
		AddAttribute(ctx, "k", "v")
		GetAttributes(ctx)["k"] = "changed"
		assert.Equal(t, "v", GetAttribute[string](ctx, "k"))
	})
}

func TestHTTPStatusToLevel(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{status: http.StatusOK, want: slog.LevelInfo},
		{status: http.StatusFound, want: slog.LevelInfo},
		{status: 499, want: slog.LevelInfo},
		{status: http.StatusNotFound, want: slog.LevelWarn},
		{status: http.StatusUnauthorized, want: slog.LevelWarn},
		{status: http.StatusInternalServerError, want: slog.LevelError},
		{status: 0, want: slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusToLevel(tt.status))
		})
	}
}

func TestConnectCodeToLevel(t *testing.T) {
	tests := []struct {
		code connect.Code
		want slog.Level
	}{
		{code: connect.CodeNotFound, want: slog.LevelInfo},
		{code: connect.CodeInvalidArgument, want: slog.LevelInfo},
		{code: connect.CodeUnauthenticated, want: slog.LevelInfo},
		{code: connect.CodeInternal, want: slog.LevelError},
		{code: connect.CodeUnavailable, want: slog.LevelError},
		{code: connect.Code(99), want: slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ConnectCodeToLevel(tt.code))
		})
	}
}

func TestConnectTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewConnectTextHandler(&buf, WithColor(false), WithLevel(slog.LevelInfo))
	logger := slog.New(h)

	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.Info("task started", "task_id", "t1", "attempt", 2)
	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "t1 ")
	assert.Contains(t, out, `task started"`)
	assert.Contains(t, out, "    attempt=2\n")
	assert.NotContains(t, out, "task_id=")
}

func TestSlogChiMiddleware(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(NewAttributesHandler(slog.NewJSONHandler(&buf, nil))))
	t.Cleanup(func() { slog.SetDefault(prev) })

	handler := SlogChiMiddleware(WithChiFilter(func(r *http.Request) bool {
		return r.URL.Path != "/health"
	}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddAttribute(r.Context(), "workspace_id", "ws")
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	m := decodeLine(t, &buf)
	assert.Equal(t, "WARN", m["level"])
	assert.Equal(t, http.StatusText(http.StatusNotFound), m["msg"])
	assert.Equal(t, "/api/tasks", m["procedure"])
	assert.Equal(t, "ws", m["workspace_id"])
	assert.EqualValues(t, http.StatusNotFound, m["status"])
}

func TestNewHandler(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		slog.New(NewHandler(&buf, false, slog.LevelWarn)).Info("dropped")
		assert.Empty(t, buf.String())
		slog.New(NewHandler(&buf, false, slog.LevelWarn)).Warn("kept")
		assert.Equal(t, "kept", decodeLine(t, &buf)["msg"])
	})

	t.Run("local", func(t *testing.T) {
		var buf bytes.Buffer
		slog.New(NewHandler(&buf, true, slog.LevelDebug)).Debug("visible")
		assert.True(t, strings.Contains(buf.String(), "visible"))
	})
}
