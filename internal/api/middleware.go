package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/veristamp/veristamp/internal/keys"
	"github.com/veristamp/veristamp/internal/model"
	"github.com/veristamp/veristamp/internal/repository"
)

type contextKey struct{ name string }

var identityKey = &contextKey{"api-key"}

func identityFrom(ctx context.Context) *model.APIKey {
	key, _ := ctx.Value(identityKey).(*model.APIKey)
	return key
}

// requireAPIKey authenticates the request. Every resolved key is charged
// before the rate-limit ceiling is compared, so the request that crosses
// the ceiling is rejected and counted.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-API-Key")
		if raw == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				raw = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "API key is required. Include X-API-Key header.")
			return
		}
		ctx := r.Context()
		key, err := s.deps.Keys.Resolve(ctx, keys.HashSecret(raw))
		if err != nil {
			if errors.Is(err, repository.ErrKeyInvalid) {
				respondError(w, http.StatusUnauthorized, "invalid or expired API key")
				return
			}
			s.log.Errorw("resolve api key failed", "error", err)
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		now := time.Now().UTC()
		if key.ExpiresAt != nil && key.ExpiresAt.Before(now) {
			respondError(w, http.StatusUnauthorized, "invalid or expired API key")
			return
		}
		count, err := s.deps.Keys.Charge(ctx, key.ID, now)
		if err != nil {
			s.log.Errorw("charge api key failed", "api_key_id", key.ID, "error", err)
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if key.RateLimit != nil && count > *key.RateLimit {
			respondError(w, http.StatusUnauthorized, "rate limit exceeded")
			return
		}
		key.RequestsCount = count
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, identityKey, key)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
