package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/clog"
)

// apiRouter serves read-only JSON views for dashboards.
func (s *Server) apiRouter() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONChiMiddleware(),
		)
		r.Get("/workspaces", func(w http.ResponseWriter, r *http.Request) {
			cerr.RespondJSON(r.Context(), s.listWorkspaces())
		})
		r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
			r.Get("/checkpoint", s.getLastCheckpoint)
			r.Get("/status", s.getStatus)
			r.Get("/harness/state", s.getHarnessState)
		})
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.RespondError(r.Context(), cerr.NewError(cerr.NotFound, "not found", nil))
		})
	})
	return r
}

func (s *Server) getLastCheckpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "workspaceID")
	if err := s.requireWorkspace(id); err != nil {
		cerr.RespondError(ctx, err)
		return
	}
	res, err := s.deps.Checkpoints.LastCheckpoint(ctx, id)
	if err != nil {
		cerr.RespondError(ctx, err)
		return
	}
	cerr.RespondJSON(ctx, res)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.status(chi.URLParam(r, "workspaceID"))
	if err != nil {
		cerr.RespondError(r.Context(), err)
		return
	}
	cerr.RespondJSON(r.Context(), rec)
}

func (s *Server) getHarnessState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "workspaceID")
	if err := s.requireWorkspace(id); err != nil {
		cerr.RespondError(ctx, err)
		return
	}
	st, err := s.deps.Harness.State(ctx, id)
	if err != nil {
		cerr.RespondError(ctx, err)
		return
	}
	cerr.RespondJSON(ctx, st)
}
