package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nodegate/nodegate-go/internal/noderegistry"
)

// Server represents the HTTP API server
type Server struct {
	registry   *noderegistry.Registry
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	log        *zap.Logger
}

// Config holds server configuration
type Config struct {
	ListenAddr string
	SecretKey  string
	AdminToken string
	PodID      string
	SyncOn     bool
}

// NewServer creates a new HTTP API server. Extra handlers (the websocket
// endpoints) can be mounted alongside the API routes.
func NewServer(registry *noderegistry.Registry, config Config, extra map[string]http.HandlerFunc, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("httpapi")

	secretKey := config.SecretKey
	if secretKey == "" {
		secretKey = "nodegate-dev-secret-change-in-production"
	}

	jwtAuth := NewJWTAuth(secretKey)
	handlers := NewHandlers(registry, jwtAuth, config.PodID, config.AdminToken, config.SyncOn)
	middleware := NewMiddleware(jwtAuth, log)

	server := &Server{
		registry:   registry,
		jwtAuth:    jwtAuth,
		handlers:   handlers,
		middleware: middleware,
		log:        log,
	}

	mux := server.setupRoutes(extra)
	httpServer := &http.Server{
		Addr:           config.ListenAddr,
		Handler:        mux,
		ReadTimeout:    30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	server.server = httpServer
	return server
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the configured route handler, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(extra map[string]http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()

	// Apply global middleware
	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}

	// Authentication endpoint (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))

	// Node endpoints (auth required)
	mux.Handle("GET /api/v1/nodes", withMiddleware(s.middleware.AuthRequired(s.handlers.ListNodes)))
	mux.Handle("GET /api/v1/nodes/{id}", withMiddleware(s.middleware.AuthRequired(s.handlers.GetNode)))
	mux.Handle("POST /api/v1/nodes/{id}/invoke", withMiddleware(s.middleware.AuthRequired(s.handlers.InvokeNode)))
	mux.Handle("POST /api/v1/nodes/{id}/events", withMiddleware(s.middleware.AdminRequired(s.handlers.SendEvent)))

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	// Websocket endpoints bypass the JSON middleware chain; the upgrade
	// handshake manages its own headers.
	for pattern, handler := range extra {
		mux.HandleFunc(pattern, handler)
	}

	return mux
}
