// Package memstore provides mutex-guarded in-memory implementations of the
// persistence surfaces the gateway and the engine consume. Used by tests and
// by the single-process dev mode; behavior mirrors the SQL repositories,
// including the guarded status transitions.
package memstore

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veristamp/veristamp/internal/model"
	"github.com/veristamp/veristamp/internal/repository"
)

// Store holds all in-memory state. Facet accessors expose the per-aggregate
// views the consumers expect.
type Store struct {
	mu          sync.Mutex
	media       map[string]model.MediaFile
	analyses    map[string]model.Analysis
	byMedia     map[string]string // media_file_id -> analysis id
	indicators  map[string][]model.Indicator
	certs       map[string]model.Certificate // by media_file_id
	keys        map[string]model.APIKey      // by id
	keysByHash  map[string]string            // key_hash -> id
	auditTrail  []model.AuditEntry
	objects     map[string][]byte
	objectTypes map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		media:       make(map[string]model.MediaFile),
		analyses:    make(map[string]model.Analysis),
		byMedia:     make(map[string]string),
		indicators:  make(map[string][]model.Indicator),
		certs:       make(map[string]model.Certificate),
		keys:        make(map[string]model.APIKey),
		keysByHash:  make(map[string]string),
		objects:     make(map[string][]byte),
		objectTypes: make(map[string]string),
	}
}

// Media returns the media-file facet.
func (s *Store) Media() *Media { return &Media{s} }

// Analyses returns the analysis facet.
func (s *Store) Analyses() *Analyses { return &Analyses{s} }

// Certificates returns the certificate facet.
func (s *Store) Certificates() *Certificates { return &Certificates{s} }

// Keys returns the API key facet.
func (s *Store) Keys() *Keys { return &Keys{s} }

// Audit returns the audit sink facet.
func (s *Store) Audit() *Audit { return &Audit{s} }

// Objects returns the object-store facet.
func (s *Store) Objects() *Objects { return &Objects{s} }

// Media is the media-file facet.
type Media struct{ s *Store }

// Create inserts a media file.
func (m *Media) Create(_ context.Context, mf *model.MediaFile) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if mf.CreatedAt.IsZero() {
		mf.CreatedAt = time.Now().UTC()
	}
	m.s.media[mf.ID] = *mf
	return nil
}

// Get returns a media file by id.
func (m *Media) Get(_ context.Context, id string) (*model.MediaFile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	mf, ok := m.s.media[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := mf
	return &out, nil
}

// Count reports how many media files exist; test helper.
func (m *Media) Count() int {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return len(m.s.media)
}

// Analyses is the analysis facet.
type Analyses struct{ s *Store }

// Create inserts a pending analysis, enforcing the 1:1 media relationship.
func (a *Analyses) Create(_ context.Context, an *model.Analysis) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, exists := a.s.byMedia[an.MediaFileID]; exists {
		return repository.ErrAnalysisExists
	}
	an.Status = model.StatusPending
	if an.CreatedAt.IsZero() {
		an.CreatedAt = time.Now().UTC()
	}
	a.s.analyses[an.ID] = *an
	a.s.byMedia[an.MediaFileID] = an.ID
	return nil
}

// Get returns an analysis scoped to its owner.
func (a *Analyses) Get(_ context.Context, id, userID string) (*model.Analysis, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	an, ok := a.s.analyses[id]
	if !ok || an.UserID != userID {
		return nil, repository.ErrNotFound
	}
	out := an
	return &out, nil
}

// GetByMedia returns the analysis attached to a media file.
func (a *Analyses) GetByMedia(_ context.Context, mediaFileID string) (*model.Analysis, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	id, ok := a.s.byMedia[mediaFileID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := a.s.analyses[id]
	return &out, nil
}

// ClaimPending moves pending -> processing; claimed=false if already gone.
func (a *Analyses) ClaimPending(_ context.Context, id string, startedAt time.Time) (bool, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	an, ok := a.s.analyses[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if an.Status != model.StatusPending {
		return false, nil
	}
	an.Status = model.StatusProcessing
	t := startedAt.UTC()
	an.StartedAt = &t
	a.s.analyses[id] = an
	return true, nil
}

// Complete atomically writes the completed state and the indicators.
func (a *Analyses) Complete(_ context.Context, id string, c model.Completion) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	an, ok := a.s.analyses[id]
	if !ok {
		return repository.ErrNotFound
	}
	if an.Status != model.StatusProcessing {
		return repository.ErrNotFound
	}
	an.Status = model.StatusCompleted
	an.ConfidenceScore = &c.ConfidenceScore
	authentic := c.IsAuthentic
	manipulated := !c.IsAuthentic
	an.IsAuthentic = &authentic
	an.IsManipulated = &manipulated
	an.ManipulationTypes = append([]string(nil), c.ManipulationTypes...)
	an.ProcessingTimeMS = &c.ProcessingTimeMS
	an.DetectorVersion = c.DetectorVersion
	completedAt := c.CompletedAt.UTC()
	an.CompletedAt = &completedAt
	a.s.analyses[id] = an

	inds := make([]model.Indicator, len(c.Indicators))
	copy(inds, c.Indicators)
	for i := range inds {
		if inds[i].ID == "" {
			inds[i].ID = uuid.NewString()
		}
		inds[i].AnalysisID = id
		if inds[i].CreatedAt.IsZero() {
			inds[i].CreatedAt = completedAt
		}
	}
	a.s.indicators[id] = inds
	return nil
}

// MarkFailed moves processing -> failed.
func (a *Analyses) MarkFailed(_ context.Context, id string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	an, ok := a.s.analyses[id]
	if !ok {
		return repository.ErrNotFound
	}
	if an.Status != model.StatusProcessing {
		return nil
	}
	an.Status = model.StatusFailed
	now := time.Now().UTC()
	an.CompletedAt = &now
	a.s.analyses[id] = an
	return nil
}

// Indicators returns the evidence attached to an analysis.
func (a *Analyses) Indicators(_ context.Context, analysisID string) ([]model.Indicator, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	out := make([]model.Indicator, len(a.s.indicators[analysisID]))
	copy(out, a.s.indicators[analysisID])
	return out, nil
}

// List returns the newest-first projection for one account.
func (a *Analyses) List(_ context.Context, userID string, limit, offset int) ([]model.AnalysisSummary, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var all []model.Analysis
	for _, an := range a.s.analyses {
		if an.UserID == userID {
			all = append(all, an)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	out := make([]model.AnalysisSummary, 0, len(all))
	for _, an := range all {
		fileName := ""
		if mf, ok := a.s.media[an.MediaFileID]; ok {
			fileName = mf.FileName
		}
		out = append(out, model.AnalysisSummary{
			AnalysisID:      an.ID,
			Status:          an.Status,
			FileName:        fileName,
			IsAuthentic:     an.IsAuthentic,
			ConfidenceScore: an.ConfidenceScore,
			CreatedAt:       an.CreatedAt,
			CompletedAt:     an.CompletedAt,
		})
	}
	return out, nil
}

// Certificates is the certificate facet.
type Certificates struct{ s *Store }

// Create inserts a certificate, one per media file.
func (c *Certificates) Create(_ context.Context, cert *model.Certificate) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, exists := c.s.certs[cert.MediaFileID]; exists {
		return repository.ErrCertificateExists
	}
	if cert.CreatedAt.IsZero() {
		cert.CreatedAt = time.Now().UTC()
	}
	c.s.certs[cert.MediaFileID] = *cert
	return nil
}

// GetByMedia returns the certificate for a media file, if any.
func (c *Certificates) GetByMedia(_ context.Context, mediaFileID string) (*model.Certificate, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	cert, ok := c.s.certs[mediaFileID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cert
	return &out, nil
}

// Count reports how many certificates exist; test helper.
func (c *Certificates) Count() int {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return len(c.s.certs)
}

// Keys is the API key facet.
type Keys struct{ s *Store }

// Create inserts a key.
func (k *Keys) Create(_ context.Context, key *model.APIKey) error {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	k.s.keys[key.ID] = *key
	k.s.keysByHash[key.KeyHash] = key.ID
	return nil
}

// Resolve looks up an active key by hash.
func (k *Keys) Resolve(_ context.Context, keyHash string) (*model.APIKey, error) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	id, ok := k.s.keysByHash[keyHash]
	if !ok {
		return nil, repository.ErrKeyInvalid
	}
	key := k.s.keys[id]
	if !key.Active {
		return nil, repository.ErrKeyInvalid
	}
	out := key
	return &out, nil
}

// Charge atomically increments the usage counter and returns the new count.
func (k *Keys) Charge(_ context.Context, id string, at time.Time) (int64, error) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	key, ok := k.s.keys[id]
	if !ok {
		return 0, repository.ErrKeyInvalid
	}
	key.RequestsCount++
	t := at.UTC()
	key.LastUsedAt = &t
	k.s.keys[id] = key
	return key.RequestsCount, nil
}

// Get returns a key by id; test helper.
func (k *Keys) Get(id string) (model.APIKey, bool) {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	key, ok := k.s.keys[id]
	return key, ok
}

// Audit is the audit sink facet.
type Audit struct{ s *Store }

// Append records one audit entry.
func (a *Audit) Append(_ context.Context, e *model.AuditEntry) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	a.s.auditTrail = append(a.s.auditTrail, *e)
	return nil
}

// Entries returns a snapshot of the trail; test helper.
func (a *Audit) Entries() []model.AuditEntry {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	out := make([]model.AuditEntry, len(a.s.auditTrail))
	copy(out, a.s.auditTrail)
	return out
}

// Objects is the object-store facet.
type Objects struct{ s *Store }

// Upload buffers the object in memory.
func (o *Objects) Upload(_ context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	o.s.objects[objectKey] = data
	o.s.objectTypes[objectKey] = contentType
	return nil
}

// Get returns a stored object; test helper.
func (o *Objects) Get(objectKey string) ([]byte, bool) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	data, ok := o.s.objects[objectKey]
	return data, ok
}
