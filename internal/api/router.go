// Package api serves the progress persistence endpoint and a read-only view
// of the experiment catalog.
package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"chemlab/internal/experiment"
	"chemlab/internal/progress"
	"chemlab/internal/store"
)

// ProgressRepository is the part of the progress store the handlers use.
type ProgressRepository interface {
	progress.Sink
	Sessions(ctx context.Context, f store.Filter) ([]store.Session, error)
	Session(ctx context.Context, sessionID string) (store.Session, error)
	History(ctx context.Context, sessionID string) ([]progress.Record, error)
	Summaries(ctx context.Context) ([]store.Summary, error)
}

// Catalog is the part of the experiment catalog the handlers use.
type Catalog interface {
	Get(id string) (*experiment.Definition, error)
	List() []*experiment.Definition
	Source(id string) string
}

// Options configures the router.
type Options struct {
	// Token, when set, is required as a bearer token on every route except
	// /health.
	Token   string
	Timeout time.Duration
	Clock   func() time.Time
	Logger  *zap.Logger
}

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(repo ProgressRepository, catalog Catalog, opts Options) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logger(opts.Logger))
	r.Use(Recovery(opts.Logger))
	r.Use(middleware.Timeout(opts.Timeout))

	healthH := NewHealthHandler(repo, catalog)
	progressH := NewProgressHandler(repo, opts.Clock, opts.Logger)
	experimentH := NewExperimentHandler(catalog)

	r.Get("/health", healthH.Health)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(opts.Token))

		r.Route("/progress", func(r chi.Router) {
			r.Post("/", progressH.Report)
			r.Get("/", progressH.List)
			r.Get("/sessions/{sessionID}", progressH.Session)
			r.Get("/sessions/{sessionID}/history", progressH.History)
			r.Get("/{experimentID}", progressH.ListExperiment)
		})

		r.Route("/experiments", func(r chi.Router) {
			r.Get("/", experimentH.List)
			r.Get("/{id}", experimentH.Get)
		})
	})

	return r
}
