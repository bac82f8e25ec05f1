// Package server exposes the integration contracts over HTTP: provider
// discovery, validation, execution, credential management, fetch run
// history, and recurring fetch schedules.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/copseworks/forage"
	"github.com/copseworks/forage/invoke"
	forageotel "github.com/copseworks/forage/otel"
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Registry    *forage.Registry
	Invoker     invoke.Invoker
	Credentials CredentialStore
	Runs        RunStore
	Schedules   ScheduleStore
	// Auth gates the credential and schedule routes behind login
	// sessions. Nil leaves them open.
	Auth    AuthStore
	Metrics *forageotel.FetchMetrics
	Tracer      trace.Tracer
	CORSOrigin  string
	MaxBody     int64
	Logger      *slog.Logger
}

// Server is the forage HTTP API server.
type Server struct {
	registry    *forage.Registry
	invoker     invoke.Invoker
	credentials CredentialStore
	runs        RunStore
	schedules   ScheduleStore
	auth        AuthStore
	metrics     *forageotel.FetchMetrics
	tracer      trace.Tracer
	corsOrigin  string
	maxBody     int64
	logger      *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	registry := cfg.Registry
	if registry == nil {
		registry = forage.Global()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 10 << 20 // 10 MB default; llama_parse uploads carry base64 payloads
	}
	return &Server{
		registry:    registry,
		invoker:     cfg.Invoker,
		credentials: cfg.Credentials,
		runs:        cfg.Runs,
		schedules:   cfg.Schedules,
		auth:        cfg.Auth,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		corsOrigin:  corsOrigin,
		maxBody:     maxBody,
		logger:      logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)
	if s.tracer != nil {
		handler = forageotel.Middleware(s.tracer, handler)
	}

	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// Provider discovery and execution
	mux.HandleFunc("GET /api/providers", s.handleListProviders)
	mux.HandleFunc("GET /api/providers/{provider}", s.handleGetProvider)
	mux.HandleFunc("POST /api/providers/{provider}/validate", s.handleValidate)
	mux.HandleFunc("POST /api/providers/{provider}/execute", s.handleExecute)

	// Auth routes
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)

	// Credential routes hold provider API keys, so they sit behind a
	// session when an auth store is configured.
	mux.HandleFunc("GET /api/credentials", s.requireSession(s.handleListCredentials))
	mux.HandleFunc("POST /api/credentials", s.requireSession(s.handleCreateCredential))
	mux.HandleFunc("GET /api/credentials/{id}", s.requireSession(s.handleGetCredential))
	mux.HandleFunc("PUT /api/credentials/{id}", s.requireSession(s.handleUpdateCredential))
	mux.HandleFunc("DELETE /api/credentials/{id}", s.requireSession(s.handleDeleteCredential))

	// Run history routes
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{run_id}", s.handleGetRun)

	// Schedule routes reference stored credentials, so they are gated
	// the same way.
	mux.HandleFunc("GET /api/schedules", s.requireSession(s.handleListSchedules))
	mux.HandleFunc("POST /api/schedules", s.requireSession(s.handleCreateSchedule))
	mux.HandleFunc("GET /api/schedules/{id}", s.requireSession(s.handleGetSchedule))
	mux.HandleFunc("PUT /api/schedules/{id}", s.requireSession(s.handleUpdateSchedule))
	mux.HandleFunc("DELETE /api/schedules/{id}", s.requireSession(s.handleDeleteSchedule))
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}

// writeContractError maps contract-layer errors onto HTTP statuses.
// Config and validation errors are the caller's fault; normalization
// errors mean the upstream payload could not be interpreted.
func writeContractError(w http.ResponseWriter, err error) {
	var cfgErr *forage.ConfigError
	if errors.As(err, &cfgErr) {
		writeError(w, http.StatusBadRequest, "CONFIG_ERROR", cfgErr.Error(), cfgErr.Field)
		return
	}
	var valErr *forage.ValidationError
	if errors.As(err, &valErr) {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", valErr.Error(), valErr.Field)
		return
	}
	var normErr *forage.NormalizationError
	if errors.As(err, &normErr) {
		writeError(w, http.StatusBadGateway, "NORMALIZATION_ERROR", normErr.Error())
		return
	}
	if errors.Is(err, forage.ErrUnknownProvider) {
		writeError(w, http.StatusNotFound, "UNKNOWN_PROVIDER", err.Error())
		return
	}
	writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
}
