// Package httpx carries the HTTP scaffolding shared by every service:
// health, readiness and metrics endpoints, JSON helpers, and the
// internal API key middleware.
package httpx

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ReadyFunc reports readiness details. ok=false yields HTTP 503.
type ReadyFunc func(ctx context.Context) (ok bool, details map[string]any)

// Server wraps the stdlib server with the common endpoint set.
type Server struct {
	mux     *http.ServeMux
	srv     *http.Server
	service string
	ready   ReadyFunc
	log     zerolog.Logger
}

// NewServer builds a server listening on addr with /health, /ready and
// /metrics registered. ready may be nil when the service is always ready.
func NewServer(addr, service string, ready ReadyFunc, log zerolog.Logger) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		service: service,
		ready:   ready,
		log:     log,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// Handle registers a handler on the underlying mux.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// HandleFunc registers a handler func on the underlying mux.
func (s *Server) HandleFunc(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// ServeHTTP dispatches on the underlying mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": s.service,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	ok, details := s.ready(r.Context())
	if details == nil {
		details = map[string]any{}
	}
	if ok {
		details["status"] = "ready"
		WriteJSON(w, http.StatusOK, details)
		return
	}
	details["status"] = "not_ready"
	WriteJSON(w, http.StatusServiceUnavailable, details)
}

// WriteJSON serializes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the standard error body {"detail": ...}.
func WriteError(w http.ResponseWriter, status int, detail string) {
	WriteJSON(w, status, map[string]string{"detail": detail})
}

// DecodeJSON decodes the request body into v, rejecting unknown trailing
// content.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// RequireAPIKey gates a handler on the X-Internal-API-Key header using a
// constant-time comparison. An empty configured key disables the gate.
func RequireAPIKey(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key != "" {
			provided := r.Header.Get("X-Internal-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				WriteError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
