// Package server exposes the session service over HTTP. Turns are submitted
// as JSON and answered with an NDJSON event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hupe1980/turnstream/bus"
	"github.com/hupe1980/turnstream/callback"
	"github.com/hupe1980/turnstream/logging"
	"github.com/hupe1980/turnstream/service"
	"github.com/hupe1980/turnstream/tool"
)

// Config holds server configuration.
type Config struct {
	Addr         string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streams stay open for the whole turn
	}
}

// Options wire optional collaborators into the server.
type Options struct {
	// Tools is the catalog turns may reference by name.
	Tools []tool.Tool
	// Bus backs GET /sessions/{sessionID}/events. Without it the endpoint
	// answers 501.
	Bus    *bus.Bus
	Logger logging.Logger
}

// Server is the HTTP server.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server
	svc     *service.Service
	adapter *callback.Adapter
	tools   tool.Set
	bus     *bus.Bus
	logger  logging.Logger
}

// New creates a new Server instance.
func New(cfg *Config, svc *service.Service, optFns ...func(o *Options)) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		config:  cfg,
		router:  chi.NewRouter(),
		svc:     svc,
		adapter: callback.New(svc, func(o *callback.Options) { o.Logger = opts.Logger }),
		tools:   tool.NewSet(opts.Tools...),
		bus:     opts.Bus,
		logger:  opts.Logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", headerSessionID, headerTurnID},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("server.start", "addr", s.config.Addr, "tools", s.tools.Names(), "models", s.svc.Models())
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
