// Package api exposes the mailsync engine over HTTP. Routes are
// versioned under /v1 and return JSON; errors use a single-field
// envelope with sentinel errors mapped to meaningful status codes.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/engine"
	"github.com/marchway/mailsync/scope"
)

// API wires all HTTP handlers for the mailsync engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the logger used for request-level failures.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// New creates an API for the given engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:    eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(a.actorScope)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts all mailsync routes on the given router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", a.createJob)
			r.Get("/", a.listJobs)
			r.Get("/counts", a.jobCounts)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", a.getJob)
				r.Get("/progress", a.getProgress)
				r.Get("/chunks", a.listChunks)
				r.Post("/release", a.releaseJob)
				r.Post("/cancel", a.cancelJob)
				r.Post("/reset", a.resetJobChunks)
			})
		})

		r.Post("/chunks/{chunkID}/reset", a.resetChunk)

		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", a.listDLQ)
			r.Get("/count", a.dlqCount)
			r.Get("/{entryID}", a.getDLQ)
			r.Post("/{entryID}/replay", a.replayDLQ)
		})

		r.Get("/protection", a.listProtection)
		r.Get("/protection/{tenantID}/{operation}", a.getProtection)
		r.Get("/audit", a.listAudit)
		r.Post("/sweep", a.sweep)
	})
}

// actorScope seeds the request context with the caller identity headers
// so engine operations can enforce tenant boundaries and record actors.
func (a *API) actorScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get("X-Actor")
		tenant := r.Header.Get("X-Tenant-ID")
		if actor != "" || tenant != "" {
			sc := scope.Scope{Actor: actor, TenantID: tenant}
			// An actor without a tenant is an operator acting across
			// tenants, not an anonymous tenant.
			if tenant == "" {
				sc.System = true
			}
			r = r.WithContext(scope.WithScope(r.Context(), sc))
		}
		next.ServeHTTP(w, r)
	})
}

// errorResponse is the JSON envelope for all error replies.
type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	a.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func (a *API) badRequest(w http.ResponseWriter, msg string) {
	a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// statusFor maps mailsync sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mailsync.ErrJobNotFound),
		errors.Is(err, mailsync.ErrChunkNotFound),
		errors.Is(err, mailsync.ErrDLQNotFound),
		errors.Is(err, mailsync.ErrParentNotFound):
		return http.StatusNotFound
	case errors.Is(err, mailsync.ErrInvalidState),
		errors.Is(err, mailsync.ErrJobAlreadyExists),
		errors.Is(err, mailsync.ErrJobNotActive):
		return http.StatusConflict
	case errors.Is(err, mailsync.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, mailsync.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, mailsync.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
