package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // registers pprof handlers on the default mux
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/framecap/internal/config"
	apperrors "github.com/zsiec/framecap/internal/errors"
	"github.com/zsiec/framecap/internal/health"
	"github.com/zsiec/framecap/internal/logger"
)

const healthCheckInterval = 30 * time.Second

// Server serves the API over HTTP/1.1 and, when enabled, HTTP/3.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	http3Server  *http3.Server
	logger       *logrus.Logger
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler
	limiter      *clientLimiter

	// Additional handlers can be registered
	additionalRoutes []func(*mux.Router)
}

// New creates a new server instance. Checkers registered on healthMgr back
// the /health and /ready endpoints.
func New(cfg *config.ServerConfig, log *logrus.Logger, healthMgr *health.Manager) *Server {
	if healthMgr == nil {
		healthMgr = health.NewManager(log)
	}

	s := &Server{
		config:           cfg,
		router:           mux.NewRouter(),
		logger:           log,
		healthMgr:        healthMgr,
		errorHandler:     apperrors.NewErrorHandler(log),
		additionalRoutes: make([]func(*mux.Router), 0),
	}

	if cfg.RateLimit.Enabled {
		s.limiter = newClientLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	return s
}

// Start serves until ctx is cancelled or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.setupRoutes()

	go s.healthMgr.StartPeriodicChecks(ctx, healthCheckInterval)
	if s.limiter != nil {
		go s.limiter.run(ctx, time.Minute)
	}

	errCh := make(chan error, 2)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	go func() {
		s.logger.WithField("port", s.config.HTTPPort).Info("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.config.EnableHTTP3 {
		if err := s.startHTTP3Server(errCh); err != nil {
			_ = s.Shutdown()
			return err
		}
	}

	select {
	case err := <-errCh:
		_ = s.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

func (s *Server) startHTTP3Server(errCh chan<- error) error {
	cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}

	s.http3Server = &http3.Server{
		Addr:    fmt.Sprintf(":%d", s.config.HTTP3Port),
		Handler: s.router,
		QUICConfig: &quic.Config{
			MaxIncomingStreams: s.config.MaxIncomingStreams,
			MaxIdleTimeout:     s.config.MaxIdleTimeout,
		},
		TLSConfig: &tls.Config{
			MinVersion:   tls.VersionTLS13,
			NextProtos:   []string{"h3"},
			Certificates: []tls.Certificate{cert},
		},
	}

	// Advertise h3 to HTTP/1.1 clients.
	h3 := s.http3Server
	s.httpServer.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h3.SetQUICHeaders(w.Header())
		s.router.ServeHTTP(w, r)
	})

	go func() {
		s.logger.WithField("port", s.config.HTTP3Port).Info("Starting HTTP/3 server")
		if err := h3.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http3 server: %w", err)
		}
	}()
	return nil
}

// Shutdown drains the HTTP listener within the configured timeout and
// closes the HTTP/3 listener.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	// http3.Server.Close doesn't take a context
	if s.http3Server != nil {
		if err := s.http3Server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("http3 server: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server shutdown complete")
	return nil
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")

	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	if s.config.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	for _, registerFunc := range s.additionalRoutes {
		registerFunc(s.router)
	}

	// Routes declare their methods without OPTIONS, so preflights need a
	// route of their own for the middleware chain (and CORS) to run. A
	// MatcherFunc rather than Methods keeps 404s from turning into 405s.
	s.router.MatcherFunc(isPreflight).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

func isPreflight(r *http.Request, _ *mux.RouteMatch) bool {
	return r.Method == http.MethodOptions
}

// setupDebugEndpoints exposes pprof and a listener summary.
func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	s.router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	s.router.HandleFunc("/debug/info", func(w http.ResponseWriter, r *http.Request) {
		info := map[string]interface{}{
			"protocols": map[string]bool{
				"http11": true,
				"http3":  s.config.EnableHTTP3,
			},
			"ports": map[string]int{
				"http":  s.config.HTTPPort,
				"http3": s.config.HTTP3Port,
			},
			"rate_limit": s.config.RateLimit,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(info)
	}).Methods("GET")
}

// RegisterRoutes adds additional route handlers to the server
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}

// ErrorHandler returns the handler used to render API errors.
func (s *Server) ErrorHandler() *apperrors.ErrorHandler {
	return s.errorHandler
}

// GetRouter returns the router for testing.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
