// Package api exposes the authentication service over REST/JSON plus the
// operator websocket stream, health/readiness probes, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/zkauth/internal/auth"
	"github.com/ocx/zkauth/internal/middleware"
)

// ServerOptions carry the HTTP-level tunables from config.
type ServerOptions struct {
	Port                string
	RegisterPerMinute   int
	ChallengePerMinute  int
	ShutdownGracePeriod time.Duration
}

// Server owns the router and the http.Server lifecycle.
type Server struct {
	opts   ServerOptions
	svc    *auth.Service
	stream *EventStream
	http   *http.Server
}

// NewServer assembles the router and middleware chain.
func NewServer(opts ServerOptions, svc *auth.Service, stream *EventStream) *Server {
	if opts.Port == "" {
		opts.Port = "8080"
	}
	if opts.ShutdownGracePeriod <= 0 {
		opts.ShutdownGracePeriod = 30 * time.Second
	}

	s := &Server{opts: opts, svc: svc, stream: stream}

	r := mux.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(middleware.Logging)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	handlers := NewHandlers(svc)

	// Registration writes the directory; it gets its own tighter budget.
	registerLimit := middleware.NewRateLimiter(middleware.RateLimitConfig{
		MaxCallsPerMinute: opts.RegisterPerMinute,
	})
	authLimit := middleware.NewRateLimiter(middleware.RateLimitConfig{
		MaxCallsPerMinute: opts.ChallengePerMinute,
	})

	api.Handle("/auth/register",
		registerLimit.Middleware(http.HandlerFunc(handlers.HandleRegister))).Methods(http.MethodPost)
	api.Handle("/auth/challenge",
		authLimit.Middleware(http.HandlerFunc(handlers.HandleChallenge))).Methods(http.MethodPost)
	api.Handle("/auth/verify",
		authLimit.Middleware(http.HandlerFunc(handlers.HandleVerify))).Methods(http.MethodPost)

	if stream != nil {
		api.HandleFunc("/events/stream", stream.Handle).Methods(http.MethodGet)
	}

	s.http = &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the assembled router; tests drive it directly.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until the context is cancelled, then drains connections for the
// configured grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("zkauth API listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down", "grace_period", s.opts.ShutdownGracePeriod)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGracePeriod)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "zkauth",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady pings the challenge store and user directory; either failing
// takes the pod out of rotation.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.svc.Ping(ctx); err != nil {
		slog.Warn("Readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
