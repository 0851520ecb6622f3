package receipt

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// Server handles HTTP requests for receipts
type Server struct {
	parser    Parser
	basicAuth BasicAuth
	limits    Limits
	version   Version
	mux       *http.ServeMux
	handler   http.Handler
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Version describes the running build
type Version struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Auth    BasicAuth
	Limits  Limits
	Version Version
}

// NewServer creates a new Server with default mux
func NewServer(parser Parser, cfg ServerConfig) *Server {
	return NewServerWithMux(parser, cfg, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(parser Parser, cfg ServerConfig, mux *http.ServeMux) *Server {
	if cfg.Limits.MaxUploadBytes <= 0 {
		cfg.Limits.MaxUploadBytes = DefaultLimits.MaxUploadBytes
	}
	if len(cfg.Limits.AllowedMIMETypes) == 0 {
		cfg.Limits.AllowedMIMETypes = DefaultLimits.AllowedMIMETypes
	}

	s := &Server{
		parser:    parser,
		basicAuth: cfg.Auth,
		limits:    cfg.Limits,
		version:   cfg.Version,
		mux:       mux,
	}
	s.registerRoutes()
	s.handler = middleware.RequestID(requestLogger(recovery(s.corsMiddleware(s.mux))))
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}

	// compare both halves in constant time
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Receipt Parser"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				Error: errorBody{Code: codeUnauthorized, Message: "Unauthorized"},
			})
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Health and version are unauthenticated
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/version", s.handleVersion)

	s.mux.HandleFunc("GET /v1/providers", s.requireAuth(s.handleListProviders))
	s.mux.HandleFunc("POST /v1/providers/{provider}/parse", s.requireAuth(s.handleParse))
}

// Handler returns the mux wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
