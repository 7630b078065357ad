// Package chassis serves the MCP server over streamable HTTP.
//
//	GET  /healthz  liveness and database readiness
//	POST /mcp      MCP JSON-RPC (streamable HTTP transport)
//
// Every request gets an id; /mcp sits behind the optional rate limit and
// auth middleware.
package chassis

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/pkg/kit"
	"github.com/hazyhaar/pkg/ratelimit"
)

// Server is the HTTP chassis around an MCP server.
type Server struct {
	addr    string
	logger  *slog.Logger
	handler http.Handler
	httpSrv *http.Server
	mu      sync.Mutex
}

// Config holds configuration for the chassis server.
type Config struct {
	Addr       string                          // TCP listen address (e.g. ":8080")
	MCPServer  *server.MCPServer               // required
	Auth       func(http.Handler) http.Handler // nil = no auth on /mcp
	Health     func(ctx context.Context) error // nil = always healthy
	RateLimit  int                             // requests per RateWindow per client address on /mcp; 0 = unlimited
	RateWindow time.Duration                   // defaults to one minute
	Limiter    *ratelimit.Limiter              // nil = in-memory limiter without stored rules
	Logger     *slog.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.MCPServer == nil {
		return nil, errors.New("chassis: MCPServer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLog(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", healthHandler(cfg.Health))

	mcpHandler := server.NewStreamableHTTPServer(cfg.MCPServer,
		server.WithHTTPContextFunc(httpContext),
	)
	r.Group(func(r chi.Router) {
		if cfg.RateLimit > 0 {
			window := cfg.RateWindow
			if window <= 0 {
				window = time.Minute
			}
			limiter := cfg.Limiter
			if limiter == nil {
				limiter = ratelimit.New(nil)
			}
			r.Use(directClients)
			r.Use(limiter.HTTPMiddleware(cfg.RateLimit, window))
		}
		if cfg.Auth != nil {
			r.Use(cfg.Auth)
		}
		r.Handle("/mcp", mcpHandler)
	})

	return &Server{addr: cfg.Addr, logger: cfg.Logger, handler: r}, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address and blocks until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	srv := s.httpSrv
	s.mu.Unlock()

	s.logger.Info("chassis started", "addr", s.addr, "mcp_path", "/mcp")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http listen")
	}
	return nil
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpSrv == nil {
		return nil
	}
	s.logger.Info("chassis stopping")
	err := s.httpSrv.Shutdown(ctx)
	s.logger.Info("chassis stopped")
	return err
}

// httpContext carries request-scoped values into tool calls.
func httpContext(ctx context.Context, r *http.Request) context.Context {
	ctx = kit.WithTransport(ctx, "http")
	if id := middleware.GetReqID(r.Context()); id != "" {
		ctx = kit.WithRequestID(ctx, id)
	}
	if user := kit.GetUserID(r.Context()); user != "" {
		ctx = kit.WithUserID(ctx, user)
	}
	return ctx
}

func healthHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		body := map[string]string{}
		if check != nil {
			if err := check(r.Context()); err != nil {
				status, code = "unavailable", http.StatusServiceUnavailable
				body["error"] = err.Error()
			}
		}
		body["status"] = status
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func requestLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
