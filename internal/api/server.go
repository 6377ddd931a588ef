// Package api exposes the programmatic gateway: API-key-gated submit,
// status, and list operations over the analysis lifecycle.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/veristamp/veristamp/internal/config"
	"github.com/veristamp/veristamp/internal/model"
	"github.com/veristamp/veristamp/internal/queue"
)

// MediaStore is the media persistence surface the gateway needs.
type MediaStore interface {
	Create(ctx context.Context, m *model.MediaFile) error
	Get(ctx context.Context, id string) (*model.MediaFile, error)
}

// AnalysisStore covers creation and the owner-scoped reads.
type AnalysisStore interface {
	Create(ctx context.Context, a *model.Analysis) error
	Get(ctx context.Context, id, userID string) (*model.Analysis, error)
	Indicators(ctx context.Context, analysisID string) ([]model.Indicator, error)
	List(ctx context.Context, userID string, limit, offset int) ([]model.AnalysisSummary, error)
}

// CertificateStore resolves issued certificates for status payloads.
type CertificateStore interface {
	GetByMedia(ctx context.Context, mediaFileID string) (*model.Certificate, error)
}

// KeyStore authenticates API credentials. Charge must be an atomic
// increment-and-fetch so concurrent requests on one key never lose counts.
type KeyStore interface {
	Resolve(ctx context.Context, keyHash string) (*model.APIKey, error)
	Charge(ctx context.Context, id string, at time.Time) (int64, error)
}

// ObjectStore persists the raw media bytes.
type ObjectStore interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
}

// Dispatcher hands an analysis off to background execution. Dispatch returns
// once the job is queued, never after it completes.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload queue.AnalyzePayload) error
}

// Recorder is the audit trail surface.
type Recorder interface {
	Record(ctx context.Context, userID, action, resourceType, resourceID string, details model.Map)
}

// Deps bundles the gateway's collaborators.
type Deps struct {
	Media      MediaStore
	Analyses   AnalysisStore
	Certs      CertificateStore
	Keys       KeyStore
	Objects    ObjectStore
	Dispatcher Dispatcher
	Audit      Recorder
}

// Server hosts the gateway HTTP endpoints.
type Server struct {
	cfg    *config.Config
	deps   Deps
	log    *zap.SugaredLogger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps, log *zap.SugaredLogger) *Server {
	return &Server{cfg: cfg, deps: deps, log: log}
}

// Routes builds the router; exported so tests can drive handlers through
// httptest without binding a socket.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
	}))
	r.Use(s.requestLogger)
	r.Get("/healthz", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/status/{analysis_id}", s.handleStatus)
		r.Get("/analyses", s.handleList)
	})
	r.NotFound(s.handleNotFound)
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Routes(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Infow("gateway listening", "address", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusNotFound, map[string]any{
		"error": "not found",
		"available_endpoints": map[string]string{
			"POST /analyze":                "Submit media file for analysis",
			"GET /status/{analysis_id}":    "Check analysis status and results",
			"GET /analyses?limit=&offset=": "List analyses (paginated)",
		},
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
