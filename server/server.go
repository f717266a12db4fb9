package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/applyforge"
	"github.com/hupe1980/applyforge/logging"
	"github.com/hupe1980/applyforge/metrics"
	"github.com/hupe1980/applyforge/progress"
)

// Options configures the Server.
type Options struct {
	// AllowedOrigins restricts WebSocket upgrades; defaults to any.
	AllowedOrigins []string

	// Metrics serves /metrics from its registry when set.
	Metrics *metrics.PrometheusRecorder

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Server routes HTTP traffic to the App and the progress broker.
type Server struct {
	app     *applyforge.App
	broker  *progress.Broker
	origins []string
	metrics *metrics.PrometheusRecorder
	logger  logging.Logger
	router  chi.Router
}

// New builds the server and its router.
func New(app *applyforge.App, broker *progress.Broker, optFns ...func(o *Options)) *Server {
	opts := Options{
		AllowedOrigins: []string{"*"},
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		app:     app,
		broker:  broker,
		origins: opts.AllowedOrigins,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	s.router = s.routes()

	return s
}

// Router returns the fully wired handler for mounting into an
// http.Server.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/generations", s.handleStartGeneration)
		r.Get("/generate", s.handleGenerateWS)

		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/events", s.handleRunEvents)
			r.Post("/cancel", s.handleCancelRun)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Get("/status", s.handleSessionStatus)
				r.Get("/log", s.handleSessionLog)
				r.Post("/approve", s.handleApproveSession)
				r.Get("/documents/{kind}", s.handleGetDocument)
			})
		})
	})

	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	return r
}
