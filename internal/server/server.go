package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dployr/internal/deployment"
	"dployr/internal/history"
	"dployr/internal/project"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 60 * time.Second

	// Rate limits per client IP, requests per minute
	GlobalRateLimit  = 120
	WebhookRateLimit = 30
)

// WebhookLookup resolves a webhook id to its enabled project registration.
// project.ErrWebhookNotFound marks unknown or disabled ids; any other error
// is an internal failure.
type WebhookLookup interface {
	FindByWebhookID(ctx context.Context, id int64) (*project.Project, error)
}

// Dispatcher starts deploy runs without waiting for them.
type Dispatcher interface {
	Dispatch(ctx context.Context, p *project.Project, trigger deployment.Trigger, commit string)
	Active(p *project.Project) (deployment.Run, bool)
}

// Server represents the HTTP server
type Server struct {
	Registry    *project.Registry
	Webhooks    WebhookLookup
	Coordinator Dispatcher
	History     *history.History // nil disables the status history
	Metrics     *Metrics
	Logger      *slog.Logger
	TestMode    bool

	httpServer *http.Server
}

// NewServer creates a new server instance. hist may be nil.
func NewServer(registry *project.Registry, coordinator Dispatcher, hist *history.History, metrics *Metrics, logger *slog.Logger, testMode bool) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		Registry:    registry,
		Webhooks:    registry,
		Coordinator: coordinator,
		History:     hist,
		Metrics:     metrics,
		Logger:      logger,
		TestMode:    testMode,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(requestLogger(s.Logger, s.Metrics))

	// Rate limiting middleware (only if not in test mode)
	if !s.TestMode {
		r.Use(NewRateLimitMiddleware("global", GlobalRateLimit, s.Logger, s.Metrics))
	}

	// Routes
	r.Get("/health", s.HandleHealth)
	r.Get("/status/{owner}/{project}", s.HandleStatus)
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())

	// Webhook route with stricter rate limit
	r.Group(func(r chi.Router) {
		if !s.TestMode {
			r.Use(NewRateLimitMiddleware("webhook", WebhookRateLimit, s.Logger, s.Metrics))
		}
		r.Post("/api/webhooks/{webhookId}", s.HandleWebhook)
	})

	return r
}

// Start starts the HTTP server and blocks until it stops. A clean Shutdown
// returns nil.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("server_starting", "addr", addr, "projects", s.Registry.Count())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for in-flight deployments
// and closes the history database.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if w, ok := s.Coordinator.(interface{ Wait() }); ok {
		done := make(chan struct{})
		go func() {
			w.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("deployments still running: %w", ctx.Err()))
		}
	}

	if s.History != nil {
		if err := s.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	return errors.Join(errs...)
}
