// Package httpapi exposes session readings over HTTP for dashboards.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/srg/bandctl/pkg/miband"
)

// Band is the subset of *miband.Session the API serves.
type Band interface {
	Pulse(ctx context.Context) (int, error)
	GetBattery(ctx context.Context) (miband.Battery, error)
	GetInfo(ctx context.Context) (miband.DeviceInfo, error)
}

// Options configures the server.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server serves band readings.
type Server struct {
	band   Band
	logger *logrus.Logger
	router chi.Router
	server *http.Server
}

// PulseResponse is the body of GET /pulse.
type PulseResponse struct {
	Token string  `json:"token"`
	Value float64 `json:"value"`
}

// NewServer creates the HTTP server and its routes.
func NewServer(band Band, opts Options, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		band:   band,
		logger: logger,
		router: chi.NewRouter(),
	}
	s.setupRoutes(opts)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: opts.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(opts Options) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(opts.RequestTimeout))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/pulse", s.handlePulse)
	s.router.Get("/battery", s.handleBattery)
	s.router.Get("/info", s.handleInfo)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.server.Addr = addr
	s.logger.WithField("addr", addr).Info("Starting HTTP API server")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

func (s *Server) handlePulse(w http.ResponseWriter, r *http.Request) {
	bpm, err := s.band.Pulse(r.Context())
	if err != nil {
		s.respondBandError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, PulseResponse{Token: "pulse", Value: float64(bpm)})
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	battery, err := s.band.GetBattery(r.Context())
	if err != nil {
		s.respondBandError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, battery)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.band.GetInfo(r.Context())
	if err != nil {
		s.respondBandError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

// statusFor maps session errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, miband.ErrNoReading), errors.Is(err, miband.ErrFreezed):
		return http.StatusServiceUnavailable
	case errors.Is(err, miband.ErrNotAuthenticated), errors.Is(err, miband.ErrAuthentication):
		return http.StatusForbidden
	case errors.Is(err, miband.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, miband.ErrDisconnected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondBandError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	entry := s.logger.WithFields(logrus.Fields{"status": status, "error": err})
	if status == http.StatusInternalServerError {
		entry.Error("Band request failed")
	} else {
		entry.Debug("Band request failed")
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithField("error", err).Warn("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
