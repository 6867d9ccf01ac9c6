// Package api provides the HTTP control API of livescan. It exposes the
// scan lifecycle, the live host registry, the event stream and, when
// configured, the session history and scheduled scans.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/anstrom/livescan/internal/api/handlers"
	"github.com/anstrom/livescan/internal/api/middleware"
	"github.com/anstrom/livescan/internal/config"
	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/logging"
	"github.com/anstrom/livescan/internal/metrics"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	maxHeaderBytes        = 1 << 20
)

// Route paths that skip authentication.
const (
	pathLiveness = "/api/v1/liveness"
	pathHealth   = "/api/v1/health"
	pathMetrics  = "/metrics"
)

// Deps are the components the API serves. Controller and Hub are required.
type Deps struct {
	Controller apihandlers.Controller
	Hub        apihandlers.Subscriber
	Metrics    *metrics.PrometheusMetrics
	Sessions   apihandlers.SessionStore
	Hosts      apihandlers.HostStore
	Scheduler  apihandlers.Scheduler
	DB         apihandlers.Pinger
	Logger     *logging.Logger
	Version    string
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	config     *config.Config
	deps       Deps
	logger     *logging.Logger
	startTime  time.Time

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new API server instance.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Controller == nil || deps.Hub == nil {
		return nil, errors.NewConfigFieldError(errors.CodeConfiguration,
			"API server requires a controller and an event hub", "api", nil)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	server := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		deps:      deps,
		logger:    deps.Logger.WithComponent("api"),
		startTime: time.Now(),
	}

	server.setupMiddleware()
	server.setupRoutes()
	server.handler = server.withCORS(server.router)

	server.httpServer = &http.Server{
		Addr:              cfg.GetAPIAddress(),
		Handler:           server.handler,
		ReadTimeout:       cfg.API.ReadTimeout,
		ReadHeaderTimeout: cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       cfg.API.IdleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}

	return server, nil
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to listen on %s", s.httpServer.Addr), err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Starting API server",
		"address", listener.Addr().String(),
		"tls", s.config.API.TLS.Enabled,
		"auth", s.config.API.APIKeyHash != "",
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	errChan := make(chan error, 1)
	go func() {
		var serveErr error
		if s.config.API.TLS.Enabled {
			serveErr = s.httpServer.ServeTLS(listener, s.config.API.TLS.CertFile, s.config.API.TLS.KeyFile)
		} else {
			serveErr = s.httpServer.Serve(listener)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", serveErr)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	maxBody := s.config.API.MaxRequestSize
	api := s.router.PathPrefix("/api/v1").Subrouter()

	health := apihandlers.NewHealthHandler(s.deps.Controller, s.deps.DB, s.deps.Version)
	api.HandleFunc("/liveness", health.Liveness).Methods(http.MethodGet)
	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)

	scan := apihandlers.NewScanHandler(s.deps.Controller, s.config.Options(), s.deps.Logger, maxBody)
	api.HandleFunc("/status", scan.Status).Methods(http.MethodGet)
	api.HandleFunc("/scan", scan.Status).Methods(http.MethodGet)
	api.HandleFunc("/scan/start", scan.Start).Methods(http.MethodPost)
	api.HandleFunc("/scan/pause", scan.Pause).Methods(http.MethodPost)
	api.HandleFunc("/scan/resume", scan.Resume).Methods(http.MethodPost)
	api.HandleFunc("/scan/stop", scan.Stop).Methods(http.MethodPost)

	hostsHandler := apihandlers.NewHostsHandler(s.deps.Controller)
	api.HandleFunc("/hosts", hostsHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/hosts/{ip}", hostsHandler.Get).Methods(http.MethodGet)

	events := apihandlers.NewEventsHandler(s.deps.Hub, s.deps.Logger)
	api.HandleFunc("/events", events.Stream).Methods(http.MethodGet)

	if s.deps.Sessions != nil && s.deps.Hosts != nil {
		sessions := apihandlers.NewSessionsHandler(s.deps.Sessions, s.deps.Hosts, s.deps.Logger)
		api.HandleFunc("/sessions", sessions.List).Methods(http.MethodGet)
		api.HandleFunc("/sessions/{id}", sessions.Get).Methods(http.MethodGet)
		api.HandleFunc("/sessions/{id}/hosts", sessions.Hosts).Methods(http.MethodGet)
	}

	if s.deps.Scheduler != nil {
		schedules := apihandlers.NewScheduleHandler(s.deps.Scheduler)
		api.HandleFunc("/schedules", schedules.List).Methods(http.MethodGet)
		api.HandleFunc("/schedules/{name}/trigger", schedules.Trigger).Methods(http.MethodPost)
		api.HandleFunc("/schedules/{name}/enable", schedules.Enable).Methods(http.MethodPost)
		api.HandleFunc("/schedules/{name}/disable", schedules.Disable).Methods(http.MethodPost)
	}

	if s.deps.Metrics != nil {
		s.router.Handle(pathMetrics, promhttp.HandlerFor(s.deps.Metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	s.router.HandleFunc("/", s.index).Methods(http.MethodGet)
}

// setupMiddleware configures middleware for the API server. The first one
// registered runs outermost.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())

	if s.config.API.RequestLogging {
		s.router.Use(middleware.Logging(s.logger))
	}
	if s.deps.Metrics != nil {
		s.router.Use(middleware.Metrics(s.deps.Metrics))
	}
	if s.config.API.APIKeyHash != "" {
		s.router.Use(middleware.Authentication(s.config.API.APIKeyHash, s.logger,
			pathLiveness, pathHealth, pathMetrics))
	}

	s.router.Use(middleware.ContentType())
}

// withCORS wraps the router so preflight requests are answered before
// route matching.
func (s *Server) withCORS(next http.Handler) http.Handler {
	cors := s.config.API.CORS
	if !cors.Enabled {
		return next
	}
	return handlers.CORS(
		handlers.AllowedOrigins(cors.AllowedOrigins),
		handlers.AllowedMethods(cors.AllowedMethods),
		handlers.AllowedHeaders(cors.AllowedHeaders),
		handlers.ExposedHeaders([]string{middleware.RequestIDHeader}),
	)(next)
}

// index returns API information for root requests.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"liveness": pathLiveness,
		"health":   pathHealth,
		"scan":     "/api/v1/scan",
		"hosts":    "/api/v1/hosts",
		"events":   "/api/v1/events",
	}
	if s.deps.Sessions != nil && s.deps.Hosts != nil {
		endpoints["sessions"] = "/api/v1/sessions"
	}
	if s.deps.Scheduler != nil {
		endpoints["schedules"] = "/api/v1/schedules"
	}
	if s.deps.Metrics != nil {
		endpoints["metrics"] = pathMetrics
	}

	response := map[string]interface{}{
		"service":   "livescan",
		"version":   s.deps.Version,
		"endpoints": endpoints,
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	}
	if stats, ok := s.deps.Hub.(hubStats); ok {
		response["stream"] = map[string]interface{}{
			"subscribers": stats.Subscribers(),
			"dropped":     stats.Dropped(),
		}
	}
	writeJSON(w, response)
}

// hubStats is implemented by dispatch.Hub.
type hubStats interface {
	Subscribers() int
	Dropped() uint64
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error("Failed to encode API index response", "error", err)
	}
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the bound address once started, the configured one
// before.
func (s *Server) GetAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}
