// Package api exposes the profiler pipeline and stored profiles over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/docutag/profiler"
	"github.com/docutag/profiler/db"
	"github.com/docutag/profiler/metrics"
	"github.com/docutag/profiler/models"
	"github.com/docutag/profiler/storage"
)

// Error messages returned in the "error" field
const (
	MsgBaseURLRequired = "Base URL is required"
	MsgInvalidURL      = "Invalid base URL"
	MsgSeedUnreachable = "Failed to fetch or process the base URL"
	MsgNoRelevantLinks = "No relevant links found"
)

// Runner executes the pipeline for one seed URL
type Runner interface {
	Run(ctx context.Context, seedURL string) (*models.Profile, error)
}

// Repository stores profiles. *db.DB satisfies it.
type Repository interface {
	SaveProfile(ctx context.Context, profile *models.Profile) error
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	GetByURL(ctx context.Context, seedURL string) (*models.Profile, error)
	GetBySlug(ctx context.Context, slug string) (*models.Profile, error)
	List(ctx context.Context, limit, offset int) ([]*models.Profile, error)
	Count(ctx context.Context) (int, error)
	DeleteByID(ctx context.Context, id string) error
}

// Config contains server configuration
type Config struct {
	Addr           string        `mapstructure:"addr"`
	CORSEnabled    bool          `mapstructure:"cors_enabled"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // Upper bound on one pipeline run
	AuthToken      string        `mapstructure:"auth_token"`      // Bearer token required on API routes when set
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		CORSEnabled:    true,
		RequestTimeout: 15 * time.Minute,
	}
}

// Server represents the API server
type Server struct {
	config  Config
	runner  Runner
	repo    Repository
	archive storage.Archive
	logger  *zap.Logger
	metrics *metrics.Metrics
	mux     *http.ServeMux
	server  *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithRepository enables caching and the /api/profiles routes
func WithRepository(repo Repository) Option {
	return func(s *Server) {
		s.repo = repo
	}
}

// WithArchive exports every new profile as a JSON document
func WithArchive(archive storage.Archive) Option {
	return func(s *Server) {
		s.archive = archive
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics records requests and serves /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a new API server
func NewServer(config Config, runner Runner, opts ...Option) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}

	s := &Server{
		config: config,
		runner: runner,
		logger: zap.NewNop(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: config.RequestTimeout + time.Minute, // Allow time for long-running extractions
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.Handle("GET /extract-info", s.authenticated(s.handleExtractInfo))
	s.mux.Handle("GET /api/profiles", s.authenticated(s.handleList))
	s.mux.Handle("GET /api/profiles/{id}", s.authenticated(s.handleGetProfile))
	s.mux.Handle("GET /api/profiles/by-slug/{slug}", s.authenticated(s.handleGetProfileBySlug))
	s.mux.Handle("DELETE /api/profiles/{id}", s.authenticated(s.handleDeleteProfile))
}

// Handler returns the fully wrapped handler
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.middleware(s.mux), "profiler-api")
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("addr", s.config.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// statusRecorder captures the response code for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// middleware applies common middleware to all routes
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.CORSEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.Request(route, rec.status, elapsed)

		// Skip health checks and scrapes to reduce noise
		if r.URL.Path != "/health" && r.URL.Path != "/metrics" {
			s.logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("elapsed", elapsed),
			)
		}
	})
}

// authenticated requires the configured bearer token
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	if s.config.AuthToken == "" {
		return next
	}
	want := []byte("Bearer " + s.config.AuthToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC(),
	}

	if s.repo != nil {
		count, err := s.repo.Count(r.Context())
		if err != nil {
			s.logger.Error("health check failed", zap.Error(err))
			respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		body["count"] = count
	}

	respondJSON(w, http.StatusOK, body)
}

// handleExtractInfo runs the pipeline for the url query parameter and returns the field mapping
func (s *Server) handleExtractInfo(w http.ResponseWriter, r *http.Request) {
	seedURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if seedURL == "" {
		respondFailure(w, http.StatusBadRequest, MsgBaseURLRequired)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	log := s.logger.With(zap.String("seed_url", seedURL))

	if s.repo != nil && !force {
		existing, err := s.repo.GetByURL(r.Context(), seedURL)
		switch {
		case err == nil:
			log.Info("serving cached profile", zap.String("profile_id", existing.ID))
			respondJSON(w, http.StatusOK, existing.Fields)
			return
		case !errors.Is(err, db.ErrNotFound):
			// Fall through to a fresh run
			log.Warn("profile cache lookup failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	profile, err := s.runner.Run(ctx, seedURL)
	if err != nil {
		switch {
		case errors.Is(err, profiler.ErrInvalidURL):
			respondFailure(w, http.StatusBadRequest, MsgInvalidURL)
		case errors.Is(err, profiler.ErrSeedUnreachable):
			respondFailure(w, http.StatusInternalServerError, MsgSeedUnreachable)
		case errors.Is(err, profiler.ErrNoRelevantLinks):
			respondFailure(w, http.StatusInternalServerError, MsgNoRelevantLinks)
		default:
			respondFailure(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.persist(r.Context(), profile, log)
	respondJSON(w, http.StatusOK, profile.Fields)
}

// persist archives and stores a fresh profile. Failures are logged and the result is still returned.
// The document archived for an earlier run of the same seed is removed once the new one is stored.
func (s *Server) persist(ctx context.Context, profile *models.Profile, log *zap.Logger) {
	var previous *models.Profile
	if s.repo != nil && s.archive != nil {
		existing, err := s.repo.GetByURL(ctx, profile.SeedURL)
		switch {
		case err == nil:
			previous = existing
		case !errors.Is(err, db.ErrNotFound):
			log.Warn("failed to look up previous profile", zap.Error(err))
		}
	}

	if s.archive != nil {
		data, err := json.Marshal(profile)
		if err == nil {
			profile.ArchiveKey, err = s.archive.SaveProfile(ctx, profile.Slug, data)
		}
		if err != nil {
			log.Error("failed to archive profile", zap.Error(err))
		}
	}

	if s.repo == nil {
		return
	}
	if err := s.repo.SaveProfile(ctx, profile); err != nil {
		log.Error("failed to save profile", zap.Error(err))
		return
	}

	if previous != nil && previous.ArchiveKey != "" && previous.ArchiveKey != profile.ArchiveKey {
		if err := s.archive.DeleteProfile(ctx, previous.ArchiveKey); err != nil {
			log.Warn("failed to delete replaced archive document", zap.String("key", previous.ArchiveKey), zap.Error(err))
		}
	}
}

// handleList lists stored profiles with pagination
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		respondError(w, http.StatusNotImplemented, "profile storage is not configured")
		return
	}

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 500)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	profiles, err := s.repo.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list profiles", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	total, err := s.repo.Count(r.Context())
	if err != nil {
		s.logger.Error("failed to count profiles", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, models.ListResponse{
		Profiles: profiles,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// handleGetProfile returns one stored profile
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	s.serveProfile(w, r, func(ctx context.Context) (*models.Profile, error) {
		return s.repo.GetByID(ctx, r.PathValue("id"))
	})
}

// handleGetProfileBySlug returns the latest stored profile for a slug
func (s *Server) handleGetProfileBySlug(w http.ResponseWriter, r *http.Request) {
	s.serveProfile(w, r, func(ctx context.Context) (*models.Profile, error) {
		return s.repo.GetBySlug(ctx, r.PathValue("slug"))
	})
}

func (s *Server) serveProfile(w http.ResponseWriter, r *http.Request, lookup func(context.Context) (*models.Profile, error)) {
	if s.repo == nil {
		respondError(w, http.StatusNotImplemented, "profile storage is not configured")
		return
	}

	profile, err := lookup(r.Context())
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get profile", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

// handleDeleteProfile removes a stored profile and its archived document
func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		respondError(w, http.StatusNotImplemented, "profile storage is not configured")
		return
	}

	id := r.PathValue("id")
	profile, err := s.repo.GetByID(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get profile", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	if err := s.repo.DeleteByID(r.Context(), id); err != nil && !errors.Is(err, db.ErrNotFound) {
		s.logger.Error("failed to delete profile", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	if s.archive != nil && profile.ArchiveKey != "" {
		if err := s.archive.DeleteProfile(r.Context(), profile.ArchiveKey); err != nil {
			s.logger.Warn("failed to delete archived profile", zap.String("key", profile.ArchiveKey), zap.Error(err))
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "profile deleted",
		"id":      id,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondFailure sends the extraction error body
func respondFailure(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message, Response: 0})
}
