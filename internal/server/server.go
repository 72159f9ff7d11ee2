// Package server implements the file storage HTTP API on a Chi router with
// Huma-documented JSON operations.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bleepstore/filestorage/internal/auth"
	"github.com/bleepstore/filestorage/internal/config"
	"github.com/bleepstore/filestorage/internal/metadata"
	"github.com/bleepstore/filestorage/internal/orchestrator"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthReporter reports the health of every configured storage backend.
type HealthReporter interface {
	HealthCheck(ctx context.Context) map[string]error
}

// Server is the file storage HTTP server.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	orch       *orchestrator.Orchestrator
	store      metadata.Store
	health     HealthReporter
	verifier   *auth.Verifier
	logger     *slog.Logger
	httpServer *http.Server
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithHealthReporter sets the backend health source used by /readyz.
func WithHealthReporter(h HealthReporter) ServerOption {
	return func(s *Server) {
		s.health = h
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server serving files through orch and looking records up in
// store. The orchestrator is expected to persist records through its hooks.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, store metadata.Store, opts ...ServerOption) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("File Storage API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		orch:   orch,
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Auth.Enabled {
		s.verifier = auth.NewVerifier(cfg.Auth)
	}

	s.registerRoutes()
	return s, nil
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> RequestID -> commonHeaders -> Recoverer -> requestLogger -> auth -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	if s.verifier != nil {
		handler = auth.Middleware(s.verifier, s.writeError)(handler)
	}
	handler = requestLogger(s.logger)(handler)
	handler = middleware.Recoverer(handler)
	handler = commonHeaders(handler)
	handler = middleware.RequestID(handler)
	if s.cfg.Metrics.Enabled {
		handler = metricsMiddleware(handler)
	}
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router. JSON operations go
// through Huma; uploads and content downloads stream on plain Chi handlers.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the liveness status of the server.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-ready",
		Method:      http.MethodGet,
		Path:        "/readyz",
		Summary:     "Readiness check",
		Description: "Pings the metadata store and every storage backend.",
		Tags:        []string{"System"},
	}, s.ready)

	if s.cfg.Metrics.Enabled {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "list-files",
		Method:      http.MethodGet,
		Path:        "/files",
		Summary:     "List files",
		Tags:        []string{"Files"},
	}, s.listFiles)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-file",
		Method:      http.MethodGet,
		Path:        "/files/{uuid}",
		Summary:     "Get file metadata",
		Tags:        []string{"Files"},
	}, s.getFile)

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-file",
		Method:        http.MethodDelete,
		Path:          "/files/{uuid}",
		Summary:       "Remove a file and all its variants",
		Tags:          []string{"Files"},
		DefaultStatus: http.StatusNoContent,
	}, s.deleteFile)

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-variant",
		Method:      http.MethodDelete,
		Path:        "/files/{uuid}/variants/{name}",
		Summary:     "Remove a single variant",
		Tags:        []string{"Files"},
	}, s.deleteVariant)

	s.router.Post("/files", s.uploadFile)
	s.router.Get("/files/{uuid}/content", s.downloadFile)
	s.router.Put("/files/{uuid}/variants/{name}", s.uploadVariant)
	s.router.Post("/files/{uuid}/variants/{name}", s.uploadVariant)
	s.router.Get("/files/{uuid}/variants/{name}/content", s.downloadVariant)
}
