package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/yieldrun/internal/config"
)

// RequestObserver records request latency per route.
type RequestObserver interface {
	ObserveHTTP(route, method string, status int, elapsed time.Duration)
}

// Server represents the read-only HTTP server
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	health   http.Handler
	metrics  http.Handler
	observer RequestObserver
	config   config.HTTPConfig
	logger   zerolog.Logger
}

// Options carries the optional collaborators of the server.
type Options struct {
	Health   http.Handler
	Metrics  http.Handler
	Observer RequestObserver
}

type ctxKey int

const requestIDKey ctxKey = iota

// NewServer builds the router. It does not bind until Start.
func NewServer(cfg config.HTTPConfig, svc Service, opts Options) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: NewHandlers(svc),
		health:   opts.Health,
		metrics:  opts.Metrics,
		observer: opts.Observer,
		config:   cfg,
		logger:   log.With().Str("component", "http").Logger(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: config.Seconds(cfg.RequestTimeoutSecs) + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	if s.health != nil {
		s.router.Handle("/health", s.health).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/yields/top", s.handlers.TopYields).Methods(http.MethodGet)
	api.HandleFunc("/yields/stablecoins", s.handlers.Stablecoins).Methods(http.MethodGet)
	api.HandleFunc("/yields/token/{symbol}", s.handlers.TokenYields).Methods(http.MethodGet)
	api.HandleFunc("/protocols/{name}/pools", s.handlers.ProtocolPools).Methods(http.MethodGet)
	api.HandleFunc("/protocols/{name}/risk", s.handlers.ProtocolRisk).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id}/history", s.handlers.PoolHistory).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id}/trend", s.handlers.PoolTrend).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/analyze", s.handlers.AnalyzePortfolio).Methods(http.MethodPost)
	api.HandleFunc("/allocation", s.handlers.Allocation).Methods(http.MethodGet)
	api.HandleFunc("/impermanent-loss", s.handlers.ImpermanentLoss).Methods(http.MethodGet)
	api.HandleFunc("/overview", s.handlers.Overview).Methods(http.MethodGet)

	s.router.NotFoundHandler = s.requestIDMiddleware(s.jsonContentTypeMiddleware(http.HandlerFunc(s.handlers.NotFound)))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs all requests with structured format
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		if s.observer != nil {
			s.observer.ObserveHTTP(route, r.Method, wrapper.statusCode, elapsed)
		}

		event := s.logger.Info()
		if wrapper.statusCode >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", wrapper.statusCode).
			Dur("elapsed", elapsed).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// timeoutMiddleware enforces request timeouts
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	timeout := config.Seconds(s.config.RequestTimeoutSecs)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// jsonContentTypeMiddleware sets JSON content type for API responses
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start binds the listener and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("port %d is busy or unavailable: %w", s.config.Port, err)
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting HTTP server (read-only)")

	if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// GetAddress returns the server address
func (s *Server) GetAddress() string {
	return s.server.Addr
}

// RequestID returns the request id stored by the middleware.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
