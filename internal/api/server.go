// Package api provides the HTTP API server for msgdb.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wesm/msgdb/internal/config"
	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/scheduler"
	"github.com/wesm/msgdb/internal/view"
)

// Caller runs fn on the goroutine that owns the database. Every handler
// touching the database or its views goes through it.
type Caller interface {
	Call(ctx context.Context, fn func() error) error
}

// MaintenanceScheduler defines the scheduler operations the API needs.
type MaintenanceScheduler interface {
	IsScheduled(name string) bool
	Trigger(name string) error
	Status() []JobStatus
	IsRunning() bool
}

// JobStatus is an alias for scheduler.JobStatus.
type JobStatus = scheduler.JobStatus

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	call        Caller
	db          *msgdb.Database
	views       *view.Cache
	scheduler   MaintenanceScheduler
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server. sched may be nil when maintenance
// is not scheduled.
func NewServer(cfg *config.Config, call Caller, db *msgdb.Database, views *view.Cache, sched MaintenanceScheduler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		call:      call,
		db:        db,
		views:     views,
		scheduler: sched,
		logger:    logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	corsConfig := CORSConfig{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: s.cfg.Server.CORSCredentials,
		MaxAge:           s.cfg.Server.CORSMaxAge,
	}
	if corsConfig.MaxAge == 0 && len(corsConfig.AllowedOrigins) > 0 {
		corsConfig.MaxAge = 86400
	}
	r.Use(CORSMiddleware(corsConfig))

	rps := s.cfg.Server.RateLimitPerSec
	if rps <= 0 {
		rps = 10
	}
	s.rateLimiter = NewRateLimiter(float64(rps), 2*rps)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/stats", s.handleStats)

		r.Get("/indexes", s.handleListIndexes)
		r.Get("/indexes/{id}/view", s.handleGetView)

		r.Get("/messages/{gid}", s.handleGetMessage)
		r.Delete("/messages/{gid}", s.handleRemoveMessage)
		r.Post("/messages/{gid}/flags", s.handleSetFlags)
		r.Post("/messages/{gid}/trash", s.handleTrash)
		r.Post("/messages/{gid}/restore", s.handleRestore)
		r.Post("/messages/{gid}/spam", s.handleSpam)
		r.Post("/messages/{gid}/notspam", s.handleNotSpam)
		r.Post("/messages/{gid}/move", s.handleMove)

		r.Get("/search", s.handleSearch)

		r.Get("/scheduler/status", s.handleSchedulerStatus)
		r.Post("/maintenance/{job}", s.handleTriggerJob)
	})

	return r
}

// Start begins listening for HTTP requests.
// Returns an error if the security posture is invalid.
func (s *Server) Start() error {
	if err := s.cfg.Server.ValidateSecure(); err != nil {
		return err
	}
	addr := s.cfg.ListenAddr()

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication; set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key configured
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			authHeader = r.Header.Get("X-API-Key")
		}
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			authHeader = authHeader[7:]
		}

		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
