package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"connectrpc.com/connect"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kazz187/taskmux/internal/api"
	"github.com/kazz187/taskmux/internal/bgprocess"
	"github.com/kazz187/taskmux/internal/checkpoint"
	"github.com/kazz187/taskmux/internal/config"
	"github.com/kazz187/taskmux/internal/harness"
	"github.com/kazz187/taskmux/internal/notify"
	"github.com/kazz187/taskmux/internal/statusset"
	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/internal/tools"
	"github.com/kazz187/taskmux/internal/workspace"
	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/clog"
)

type Deps struct {
	Tools         *tools.Tools
	Workspaces    *workspace.Manager
	Tasks         *task.Service
	Processes     *bgprocess.Registry
	Harness       *harness.Service
	Checkpoints   *checkpoint.Service
	Status        *statusset.Service
	Subscriptions *notify.Subscriptions
}

type Server struct {
	env  *config.Env
	deps Deps

	mu     sync.Mutex
	server *http.Server
	closed bool
}

func NewServer(env *config.Env, deps Deps) *Server {
	return &Server{env: env, deps: deps}
}

// Handler returns the full HTTP surface: Connect procedures, the /api JSON
// routes and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	mux.Handle("/api/", s.apiRouter())

	opts := []connect.HandlerOption{
		connect.WithInterceptors(s.interceptors()...),
		connect.WithCodec(api.Codec{}),
	}
	s.registerTools(mux, opts)
	s.registerWorkspaces(mux, opts)
	s.registerTasks(mux, opts)
	s.registerProcesses(mux, opts)
	s.registerHarness(mux, opts)
	s.registerCheckpoint(mux, opts)
	s.registerStatus(mux, opts)
	s.registerPush(mux, opts)

	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.apiKeyMiddleware(mux))
}

// ListenAndServe serves until Shutdown. ctx becomes the base context of
// every request, so cancelling it ends open streams.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	srv := &http.Server{
		Addr:        addr,
		Handler:     h2c.NewHandler(s.Handler(), &http2.Server{}),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.server = srv
	s.mu.Unlock()

	slog.InfoContext(ctx, "starting server", "addr", addr)
	return srv.ListenAndServe()
}

// Shutdown stops the server. A later ListenAndServe returns
// http.ErrServerClosed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) interceptors() []connect.Interceptor {
	return []connect.Interceptor{
		clog.NewSlogConnectInterceptor(clog.WithRequestAttributes(requestAttributes)),
		cerr.NewConnectInterceptor(),
	}
}

// apiKeyMiddleware is a no-op when no API key is configured.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	if s.env.APIKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.env.APIKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestAttributes tags the request log with the workspace and task a
// message names, if any.
func requestAttributes(msg any) map[string]any {
	v := reflect.Indirect(reflect.ValueOf(msg))
	if v.Kind() != reflect.Struct {
		return nil
	}
	attrs := map[string]any{}
	for field, key := range map[string]string{"WorkspaceID": "workspace_id", "TaskID": "task_id"} {
		if f := v.FieldByName(field); f.IsValid() && f.Kind() == reflect.String && f.String() != "" {
			attrs[key] = f.String()
		}
	}
	return attrs
}

func unary[Req, Res any](mux *http.ServeMux, procedure string, fn func(context.Context, *Req) (*Res, error), opts []connect.HandlerOption) {
	mux.Handle(procedure, connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			res, err := fn(ctx, req.Msg)
			if err != nil {
				return nil, err
			}
			return connect.NewResponse(res), nil
		}, opts...))
}

func serverStream[Req, Res any](mux *http.ServeMux, procedure string, fn func(context.Context, *Req, *connect.ServerStream[Res]) error, opts []connect.HandlerOption) {
	mux.Handle(procedure, connect.NewServerStreamHandler(procedure,
		func(ctx context.Context, req *connect.Request[Req], stream *connect.ServerStream[Res]) error {
			return fn(ctx, req.Msg, stream)
		}, opts...))
}

func (s *Server) requireWorkspace(id string) error {
	if id == "" {
		return cerr.NewError(cerr.InvalidArgument, "workspace id is required", nil)
	}
	if _, ok := s.deps.Workspaces.Get(id); !ok {
		return cerr.NewError(cerr.NotFound, "workspace "+id+" not found", nil)
	}
	return nil
}
