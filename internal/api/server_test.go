package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veristamp/veristamp/internal/audit"
	"github.com/veristamp/veristamp/internal/config"
	"github.com/veristamp/veristamp/internal/keys"
	"github.com/veristamp/veristamp/internal/memstore"
	"github.com/veristamp/veristamp/internal/model"
	"github.com/veristamp/veristamp/internal/queue"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	payloads []queue.AnalyzePayload
}

func (d *recordingDispatcher) Dispatch(_ context.Context, p queue.AnalyzePayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, p)
	return nil
}

func (d *recordingDispatcher) all() []queue.AnalyzePayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]queue.AnalyzePayload(nil), d.payloads...)
}

type gateway struct {
	handler    http.Handler
	store      *memstore.Store
	dispatcher *recordingDispatcher
}

func newGateway(t *testing.T, maxUpload int64) *gateway {
	t.Helper()
	store := memstore.New()
	dispatcher := &recordingDispatcher{}
	log := zap.NewNop().Sugar()
	cfg := &config.Config{Address: ":0", MaxUploadBytes: maxUpload}
	srv := New(cfg, Deps{
		Media:      store.Media(),
		Analyses:   store.Analyses(),
		Certs:      store.Certificates(),
		Keys:       store.Keys(),
		Objects:    store.Objects(),
		Dispatcher: dispatcher,
		Audit:      audit.New(store.Audit(), log),
	}, log)
	return &gateway{handler: srv.Routes(), store: store, dispatcher: dispatcher}
}

type keyOption func(*model.APIKey)

func withRateLimit(n int64) keyOption {
	return func(k *model.APIKey) { k.RateLimit = &n }
}

func withExpiry(t time.Time) keyOption {
	return func(k *model.APIKey) { k.ExpiresAt = &t }
}

func inactive() keyOption {
	return func(k *model.APIKey) { k.Active = false }
}

func (g *gateway) addKey(t *testing.T, userID string, opts ...keyOption) string {
	t.Helper()
	secret, err := keys.GenerateSecret()
	require.NoError(t, err)
	key := &model.APIKey{
		ID:      uuid.NewString(),
		UserID:  userID,
		KeyHash: keys.HashSecret(secret),
		Active:  true,
	}
	for _, opt := range opts {
		opt(key)
	}
	require.NoError(t, g.store.Keys().Create(context.Background(), key))
	return secret
}

func (g *gateway) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func pngBytes(size int) []byte {
	out := make([]byte, size)
	copy(out, pngHeader)
	return out
}

func multipartBody(t *testing.T, file []byte, filename, analysisType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if analysisType != "" {
		require.NoError(t, w.WriteField("analysis_type", analysisType))
	}
	if file != nil {
		fw, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAuthMissingKey(t *testing.T) {
	g := newGateway(t, 1<<20)
	rec := g.do(httptest.NewRequest(http.MethodGet, "/analyses", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthUnknownKey(t *testing.T) {
	g := newGateway(t, 1<<20)
	req := httptest.NewRequest(http.MethodGet, "/analyses", nil)
	req.Header.Set("X-API-Key", "vs_nonsense")
	assert.Equal(t, http.StatusUnauthorized, g.do(req).Code)
}

func TestAuthInactiveKey(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a", inactive())
	req := httptest.NewRequest(http.MethodGet, "/analyses", nil)
	req.Header.Set("X-API-Key", secret)
	assert.Equal(t, http.StatusUnauthorized, g.do(req).Code)
}

func TestAuthExpiredKey(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a", withExpiry(time.Now().Add(-time.Hour)))
	req := httptest.NewRequest(http.MethodGet, "/analyses", nil)
	req.Header.Set("X-API-Key", secret)
	assert.Equal(t, http.StatusUnauthorized, g.do(req).Code)
}

func TestAuthBearerHeaderAccepted(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a")
	req := httptest.NewRequest(http.MethodGet, "/analyses", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	assert.Equal(t, http.StatusOK, g.do(req).Code)
}

// The request that crosses the ceiling is rejected and still charged: with
// rate_limit = 3 the 4th call fails and the counter reads 4 afterwards.
func TestRateLimitChargesRejectedRequest(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a", withRateLimit(3))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/analyses", nil)
		req.Header.Set("X-API-Key", secret)
		require.Equal(t, http.StatusOK, g.do(req).Code, "request %d", i+1)
	}
	req := httptest.NewRequest(http.MethodGet, "/analyses", nil)
	req.Header.Set("X-API-Key", secret)
	assert.Equal(t, http.StatusUnauthorized, g.do(req).Code)

	key, _ := g.store.Keys().Resolve(context.Background(), keys.HashSecret(secret))
	assert.Equal(t, int64(4), key.RequestsCount)
	assert.NotNil(t, key.LastUsedAt)
}

func TestAnalyzeSubmitsPendingAnalysis(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a")

	body, contentType := multipartBody(t, pngBytes(2048), "photo.png", "full")
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("X-API-Key", secret)
	req.Header.Set("Content-Type", contentType)
	rec := g.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, "pending", resp["status"])
	analysisID, _ := resp["analysis_id"].(string)
	mediaID, _ := resp["media_file_id"].(string)
	require.NotEmpty(t, analysisID)
	require.NotEmpty(t, mediaID)

	media, err := g.store.Media().Get(context.Background(), mediaID)
	require.NoError(t, err)
	assert.Equal(t, model.MediaImage, media.FileType)
	assert.Equal(t, "photo.png", media.FileName)
	assert.Equal(t, int64(2048), media.FileSize)
	assert.Equal(t, "api", media.Metadata["source"])

	stored, ok := g.store.Objects().Get(media.StoragePath)
	require.True(t, ok)
	assert.Len(t, stored, 2048)

	a, err := g.store.Analyses().Get(context.Background(), analysisID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, a.Status)
	assert.Equal(t, model.ModeFull, a.Mode)

	payloads := g.dispatcher.all()
	require.Len(t, payloads, 1)
	assert.Equal(t, mediaID, payloads[0].MediaFileID)
	assert.Equal(t, "full", payloads[0].AnalysisType)

	var actions []string
	for _, e := range g.store.Audit().Entries() {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, audit.ActionAPIAnalysisRequested)
}

func TestAnalyzeDefaultsToFullMode(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a")

	body, contentType := multipartBody(t, pngBytes(512), "photo.png", "")
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("X-API-Key", secret)
	req.Header.Set("Content-Type", contentType)
	require.Equal(t, http.StatusAccepted, g.do(req).Code)

	payloads := g.dispatcher.all()
	require.Len(t, payloads, 1)
	assert.Equal(t, "full", payloads[0].AnalysisType)
}

func TestAnalyzeRejectsInvalidMode(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a")

	body, contentType := multipartBody(t, pngBytes(512), "photo.png", "psychic")
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("X-API-Key", secret)
	req.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusBadRequest, g.do(req).Code)
	assert.Equal(t, 0, g.store.Media().Count())
}

func TestAnalyzeRejectsMissingFile(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a")

	body, contentType := multipartBody(t, nil, "", "full")
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("X-API-Key", secret)
	req.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusBadRequest, g.do(req).Code)
}

// Oversized uploads are rejected while streaming: nothing reaches the
// object store and no media record is created.
func TestAnalyzeRejectsOversizedBeforeStorage(t *testing.T) {
	g := newGateway(t, 1024)
	secret := g.addKey(t, "user-a")

	body, contentType := multipartBody(t, pngBytes(4096), "big.png", "full")
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("X-API-Key", secret)
	req.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusBadRequest, g.do(req).Code)
	assert.Equal(t, 0, g.store.Media().Count())
	assert.Empty(t, g.dispatcher.all())
}

func TestAnalyzeRejectsNonMediaContent(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a")

	body, contentType := multipartBody(t, []byte("plain text, definitely not media content"), "notes.txt", "full")
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("X-API-Key", secret)
	req.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusBadRequest, g.do(req).Code)
	assert.Equal(t, 0, g.store.Media().Count())
}

func (g *gateway) seedAnalysis(t *testing.T, userID string, createdAt time.Time) (mediaID, analysisID string) {
	t.Helper()
	mediaID = uuid.NewString()
	analysisID = uuid.NewString()
	require.NoError(t, g.store.Media().Create(context.Background(), &model.MediaFile{
		ID:       mediaID,
		UserID:   userID,
		FileName: fmt.Sprintf("file-%s.png", mediaID[:8]),
		FileType: model.MediaImage,
	}))
	require.NoError(t, g.store.Analyses().Create(context.Background(), &model.Analysis{
		ID:          analysisID,
		MediaFileID: mediaID,
		UserID:      userID,
		Mode:        model.ModeFull,
		CreatedAt:   createdAt,
	}))
	return mediaID, analysisID
}

func TestStatusPendingHasNullResult(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a")
	_, analysisID := g.seedAnalysis(t, "user-a", time.Now())

	req := httptest.NewRequest(http.MethodGet, "/status/"+analysisID, nil)
	req.Header.Set("X-API-Key", secret)
	rec := g.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, "pending", resp["status"])
	assert.Nil(t, resp["result"])
}

func TestStatusCompletedDerivesTrustScore(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a")
	mediaID, analysisID := g.seedAnalysis(t, "user-a", time.Now())

	ctx := context.Background()
	claimed, err := g.store.Analyses().ClaimPending(ctx, analysisID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, g.store.Analyses().Complete(ctx, analysisID, model.Completion{
		ConfidenceScore:   80,
		IsAuthentic:       false,
		ManipulationTypes: []string{"face_swap"},
		ProcessingTimeMS:  1200,
		DetectorVersion:   "stub-1",
		CompletedAt:       time.Now(),
		Indicators: []model.Indicator{{
			Kind:       model.IndicatorVisualArtifact,
			Category:   "facial",
			Severity:   model.SeverityHigh,
			Confidence: 88,
		}},
	}))
	require.NoError(t, g.store.Certificates().Create(ctx, &model.Certificate{
		ID:              uuid.NewString(),
		MediaFileID:     mediaID,
		CertificateHash: "abc123",
		IssuerID:        "user-a",
		Type:            model.CertVerifiedManipulated,
		ValidFrom:       time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/status/"+analysisID, nil)
	req.Header.Set("X-API-Key", secret)
	rec := g.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, "completed", resp["status"])
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	// manipulated at confidence 80 -> trust 100-80
	assert.Equal(t, float64(20), result["trust_score"])
	assert.Equal(t, false, result["is_authentic"])
	assert.Equal(t, true, result["is_manipulated"])
	indicators, ok := result["indicators"].([]any)
	require.True(t, ok)
	assert.Len(t, indicators, 1)
	cert, ok := result["certificate"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "verified_manipulated", cert["certificate_type"])
}

// An analysis owned by another account reads as not-found, never forbidden.
func TestStatusOwnershipIsolation(t *testing.T) {
	g := newGateway(t, 1<<20)
	secretA := g.addKey(t, "user-a")
	_, analysisID := g.seedAnalysis(t, "user-b", time.Now())

	req := httptest.NewRequest(http.MethodGet, "/status/"+analysisID, nil)
	req.Header.Set("X-API-Key", secretA)
	rec := g.do(req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeJSON(t, rec)
	assert.Equal(t, "analysis not found", resp["error"])
}

func TestListNewestFirstWithPagination(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a")
	base := time.Now().Add(-time.Hour)
	g.seedAnalysis(t, "user-a", base)
	g.seedAnalysis(t, "user-a", base.Add(time.Minute))
	_, newest := g.seedAnalysis(t, "user-a", base.Add(2*time.Minute))
	g.seedAnalysis(t, "user-b", base.Add(3*time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/analyses?limit=1&offset=0", nil)
	req.Header.Set("X-API-Key", secret)
	rec := g.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, float64(1), resp["count"])
	assert.Equal(t, float64(1), resp["limit"])
	list, ok := resp["analyses"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	first, _ := list[0].(map[string]any)
	assert.Equal(t, newest, first["analysis_id"])
}

func TestListDefaults(t *testing.T) {
	g := newGateway(t, 1<<20)
	secret := g.addKey(t, "user-a")

	req := httptest.NewRequest(http.MethodGet, "/analyses", nil)
	req.Header.Set("X-API-Key", secret)
	rec := g.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON(t, rec)
	assert.Equal(t, float64(50), resp["limit"])
	assert.Equal(t, float64(0), resp["offset"])
	assert.Equal(t, float64(0), resp["count"])
}

func TestUnknownRouteReturnsDirectory(t *testing.T) {
	g := newGateway(t, 1<<20)
	rec := g.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeJSON(t, rec)
	_, ok := resp["available_endpoints"].(map[string]any)
	assert.True(t, ok)
}

func TestPreflightReturnsOK(t *testing.T) {
	g := newGateway(t, 1<<20)
	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := g.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestHealthzIsPublic(t *testing.T) {
	g := newGateway(t, 1<<20)
	rec := g.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
