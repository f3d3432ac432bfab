package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/consentclick/internal/shield"
)

// Service is a unit that registers both HTTP routes and MCP tools.
type Service interface {
	RegisterHTTP(r chi.Router)
	RegisterMCP(srv *mcp.Server)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	// MCP mounts the streamable MCP endpoint at /mcp.
	MCP bool
	// MaxBody caps request bodies. Default: 10MB.
	MaxBody int64
	// RateLimits maps "METHOD /path" to a per-client rule.
	RateLimits map[string]shield.Rule
	Logger     *slog.Logger
}

// Server routes HTTP and MCP traffic to registered services.
type Server struct {
	cfg     ServerConfig
	router  *chi.Mux
	mcp     *mcp.Server
	limiter *shield.RateLimiter
	logger  *slog.Logger
}

// NewServer creates a Server with /health mounted.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Name == "" {
		cfg.Name = "consentclick"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = maxBody
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(shield.SecurityHeaders(shield.APIHeaders()))
	r.Use(shield.MaxBody(cfg.MaxBody))
	var limiter *shield.RateLimiter
	if len(cfg.RateLimits) > 0 {
		limiter = shield.NewRateLimiter(cfg.RateLimits, cfg.Logger)
		r.Use(limiter.Middleware)
	}
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s := &Server{
		cfg:     cfg,
		router:  r,
		mcp:     mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		limiter: limiter,
		logger:  cfg.Logger,
	}
	if cfg.MCP {
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
		r.Handle("/mcp", h)
	}
	return s
}

// Register adds svc's routes and tools.
func (s *Server) Register(svc Service) {
	svc.RegisterHTTP(s.router)
	svc.RegisterMCP(s.mcp)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// MCP returns the MCP server, for stdio or in-memory transports.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// dismiss holds the connection for a full page lifetime
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.limiter != nil {
		s.limiter.StartGC(5*time.Minute, ctx.Done())
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.cfg.Addr, "mcp", s.cfg.MCP)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
