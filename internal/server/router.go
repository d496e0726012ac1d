package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/filemaker-mcp/internal/httputil"
	"git.cscs.ch/openchami/filemaker-mcp/internal/metrics"
)

const maxRequestBody = 4 << 20

// BuildInfo is reported by /version and the MCP initialize handshake.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// HTTPOptions configures the HTTP transport.
type HTTPOptions struct {
	Build          BuildInfo
	Contract       []byte
	MetricsEnabled bool
	// Ready backs /readiness. Nil means always ready.
	Ready func() error
}

// HTTPServer wraps MCP HTTP routing state.
type HTTPServer struct {
	opts     HTTPOptions
	registry *ToolRegistry
	policy   ToolAuthorizer
	authn    SessionAuthenticator
	caller   ToolCaller
	logger   zerolog.Logger
}

// NewHTTPServer creates an HTTP transport server with health and MCP routes.
func NewHTTPServer(
	opts HTTPOptions,
	registry *ToolRegistry,
	policy ToolAuthorizer,
	authn SessionAuthenticator,
	caller ToolCaller,
	logger zerolog.Logger,
) *HTTPServer {
	return &HTTPServer{
		opts:     opts,
		registry: registry,
		policy:   policy,
		authn:    authn,
		caller:   caller,
		logger:   logger,
	}
}

// Router builds the MCP HTTP router.
func (s *HTTPServer) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(httputil.SecureHeaders)
	r.Use(httputil.BodyLimit(maxRequestBody))

	r.Method(http.MethodGet, "/health", httputil.HealthHandler())
	r.Method(http.MethodGet, "/readiness", httputil.ReadinessHandler(s.opts.Ready))
	r.Method(http.MethodGet, "/version", httputil.VersionHandler(s.opts.Build.Version, s.opts.Build.Commit, s.opts.Build.BuildDate))
	if s.opts.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	registerMCPHTTPRoutes(r, toolGate{registry: s.registry, authorizer: s.policy}, s.authn, s.caller, s.opts.Build.Version, s.logger)

	r.Get("/api/tools.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(s.opts.Contract)
	})

	return r
}
