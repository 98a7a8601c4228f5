// Package server exposes the analytics service, result cache and alert engine
// over HTTP.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/alerting"
	"github.com/opsboard/opsboard-analytics/internal/analytics"
	"github.com/opsboard/opsboard-analytics/internal/audit"
	"github.com/opsboard/opsboard-analytics/internal/middleware"
)

// Version is reported by /info.
var Version = "0.1.0"

// Config holds the HTTP listener settings.
type Config struct {
	Host            string
	Port            int
	AllowedOrigins  []string
	RateLimitRPS    float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration

	// DefaultTimeframe applies when a request names none.
	DefaultTimeframe string
}

// Deps are the components the handlers call into.
type Deps struct {
	Analytics *analytics.Service
	Alerts    *alerting.Engine
	Audit     audit.Logger
	Logger    *zap.Logger

	// Ready reports whether backing stores are reachable. Optional.
	Ready func(ctx context.Context) error
}

// Server represents the analytics API server
type Server struct {
	cfg       Config
	analytics *analytics.Service
	alerts    *alerting.Engine
	audit     audit.Logger
	logger    *zap.Logger
	ready     func(ctx context.Context) error

	hub     *Hub
	limiter *middleware.RateLimiter
	handler http.Handler
	started time.Time

	httpServer *http.Server

	// State
	mu      sync.RWMutex
	running bool
}

// New builds the router and registers the alert stream with the engine.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Analytics == nil {
		return nil, fmt.Errorf("analytics service is required")
	}
	if deps.Alerts == nil {
		return nil, fmt.Errorf("alert engine is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	logger := deps.Logger.With(zap.String("component", "http_server"))
	s := &Server{
		cfg:       cfg,
		analytics: deps.Analytics,
		alerts:    deps.Alerts,
		audit:     deps.Audit,
		logger:    logger,
		ready:     deps.Ready,
		hub:       NewHub(cfg.AllowedOrigins, logger),
		started:   time.Now(),
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	s.alerts.OnFire(s.hub.BroadcastNotification)
	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the alert stream hub.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	if s.limiter != nil {
		api.Use(s.limiter.Middleware)
	}

	// Analytics
	api.HandleFunc("/analytics/metrics", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/analytics/comparison", s.handleComparison).Methods(http.MethodGet)
	api.HandleFunc("/analytics/chart/{metric}", s.handleChart).Methods(http.MethodGet)
	api.HandleFunc("/analytics/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/analytics/forecast", s.handleForecast).Methods(http.MethodPost)
	api.HandleFunc("/analytics/forecast/summary", s.handleForecastSummary).Methods(http.MethodPost)

	// Cache
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/cache", s.handleCacheClear).Methods(http.MethodDelete)
	api.HandleFunc("/cache/invalidate/{category}", s.handleCacheInvalidate).Methods(http.MethodPost)

	// Alerts
	api.HandleFunc("/alerts/thresholds", s.handleListThresholds).Methods(http.MethodGet)
	api.HandleFunc("/alerts/thresholds", s.handleCreateThreshold).Methods(http.MethodPost)
	api.HandleFunc("/alerts/thresholds/{id}", s.handleGetThreshold).Methods(http.MethodGet)
	api.HandleFunc("/alerts/thresholds/{id}", s.handleUpdateThreshold).Methods(http.MethodPut)
	api.HandleFunc("/alerts/thresholds/{id}", s.handleDeleteThreshold).Methods(http.MethodDelete)
	api.HandleFunc("/alerts/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/alerts/history", s.handleClearHistory).Methods(http.MethodDelete)
	api.HandleFunc("/alerts/history/{id}/ack", s.handleAcknowledge).Methods(http.MethodPost)
	api.HandleFunc("/alerts/check", s.handleCheckAlerts).Methods(http.MethodPost)
	api.HandleFunc("/alerts/stream", s.hub.ServeWS).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
	})

	router.Use(s.recoveryMiddleware)
	router.Use(s.loggingMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Correlation-ID"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

// Start listens in the background. It returns once the listener is bound.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop closes every alert stream and shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.hub.Close()
	if s.limiter != nil {
		s.limiter.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ─── Middleware ───────────────────────────────────────────────────────────────

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps WebSocket upgrades working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if id := r.Header.Get("X-Correlation-ID"); id != "" {
			r = r.WithContext(audit.WithCorrelationID(r.Context(), id))
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("panic in handler",
					zap.Any("panic", v),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
