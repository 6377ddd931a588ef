// Package model contains the row structs and enums shared by the gateway,
// the worker, and the repositories.
package model

import "time"

// MediaType classifies an uploaded file by signal channel.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// AnalysisStatus is the lifecycle state of an analysis. Transitions only
// move forward: pending -> processing -> completed | failed.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s AnalysisStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AnalysisMode selects which signal channels the detector considers.
type AnalysisMode string

const (
	ModeFull         AnalysisMode = "full"
	ModeVisualOnly   AnalysisMode = "visual_only"
	ModeAudioOnly    AnalysisMode = "audio_only"
	ModeMetadataOnly AnalysisMode = "metadata_only"
)

// ParseMode validates a client-supplied mode string. An empty string
// defaults to ModeFull.
func ParseMode(s string) (AnalysisMode, bool) {
	switch AnalysisMode(s) {
	case "":
		return ModeFull, true
	case ModeFull, ModeVisualOnly, ModeAudioOnly, ModeMetadataOnly:
		return AnalysisMode(s), true
	}
	return "", false
}

// IndicatorKind names the class of evidence an indicator carries.
type IndicatorKind string

const (
	IndicatorVisualArtifact     IndicatorKind = "visual_artifact"
	IndicatorAudioInconsistency IndicatorKind = "audio_inconsistency"
	IndicatorTemporalAnomaly    IndicatorKind = "temporal_anomaly"
	IndicatorMetadataMismatch   IndicatorKind = "metadata_mismatch"
)

// Severity grades an indicator.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// CertificateType records the attested outcome.
type CertificateType string

const (
	CertOriginal            CertificateType = "original"
	CertVerifiedAuthentic   CertificateType = "verified_authentic"
	CertVerifiedManipulated CertificateType = "verified_manipulated"
)

// Map is an opaque key-value payload (indicator locations, evidence scores,
// certificate data, audit details). Persisted as JSONB; the envelope is
// validated, the contents are not.
type Map map[string]any

// MediaFile is immutable once stored.
type MediaFile struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	FileName    string    `json:"file_name"`
	FileType    MediaType `json:"file_type"`
	FileSize    int64     `json:"file_size"`
	MimeType    string    `json:"mime_type"`
	StoragePath string    `json:"storage_path"`
	Metadata    Map       `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Analysis is the mutable lifecycle record, exactly one per media file.
// The nullable fields stay nil until the transition that populates them.
type Analysis struct {
	ID                string         `json:"id"`
	MediaFileID       string         `json:"media_file_id"`
	UserID            string         `json:"user_id"`
	Status            AnalysisStatus `json:"status"`
	Mode              AnalysisMode   `json:"analysis_type"`
	ConfidenceScore   *float64       `json:"confidence_score,omitempty"`
	IsAuthentic       *bool          `json:"is_authentic,omitempty"`
	IsManipulated     *bool          `json:"is_manipulated,omitempty"`
	ManipulationTypes []string       `json:"manipulation_types,omitempty"`
	ProcessingTimeMS  *int64         `json:"processing_time_ms,omitempty"`
	DetectorVersion   string         `json:"detector_version,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// TrustScore normalizes the confidence score against the verdict for
// display. Nil until the analysis completes.
func (a *Analysis) TrustScore() *float64 {
	if a.Status != StatusCompleted || a.ConfidenceScore == nil || a.IsAuthentic == nil {
		return nil
	}
	score := *a.ConfidenceScore
	if !*a.IsAuthentic {
		score = 100 - score
	}
	return &score
}

// Indicator is one piece of evidence attached to a completed analysis.
// Never mutated after the completion write.
type Indicator struct {
	ID           string        `json:"id"`
	AnalysisID   string        `json:"analysis_id"`
	Kind         IndicatorKind `json:"indicator_type"`
	Category     string        `json:"category"`
	Severity     Severity      `json:"severity"`
	Confidence   float64       `json:"confidence"`
	Description  string        `json:"description"`
	LocationData Map           `json:"location_data,omitempty"`
	EvidenceData Map           `json:"evidence_data,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Certificate attests an analysis outcome for a media file. Immutable after
// issuance except Revoked.
type Certificate struct {
	ID              string          `json:"id"`
	MediaFileID     string          `json:"media_file_id"`
	CertificateHash string          `json:"certificate_hash"`
	AnchorTxID      *string         `json:"anchor_txid,omitempty"`
	AnchorNetwork   string          `json:"anchor_network,omitempty"`
	IssuerID        string          `json:"issuer_id"`
	Type            CertificateType `json:"certificate_type"`
	Data            Map             `json:"certificate_data,omitempty"`
	ValidFrom       time.Time       `json:"valid_from"`
	ValidUntil      *time.Time      `json:"valid_until,omitempty"`
	Revoked         bool            `json:"revoked"`
	CreatedAt       time.Time       `json:"created_at"`
}

// APIKey is a programmatic credential. Only the SHA-256 hash of the secret
// is ever stored.
type APIKey struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Name          string     `json:"name"`
	KeyHash       string     `json:"-"`
	Active        bool       `json:"active"`
	RateLimit     *int64     `json:"rate_limit,omitempty"`
	RequestsCount int64      `json:"requests_count"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AuditEntry is an append-only lifecycle event.
type AuditEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Details      Map       `json:"details,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Completion carries everything the completed-transition writes in one
// atomic unit: either all of it lands or none of it does.
type Completion struct {
	ConfidenceScore   float64
	IsAuthentic       bool
	ManipulationTypes []string
	ProcessingTimeMS  int64
	DetectorVersion   string
	CompletedAt       time.Time
	Indicators        []Indicator
}

// AnalysisSummary is the lightweight list projection (no indicators or
// certificate payloads).
type AnalysisSummary struct {
	AnalysisID      string         `json:"analysis_id"`
	Status          AnalysisStatus `json:"status"`
	FileName        string         `json:"file_name"`
	IsAuthentic     *bool          `json:"is_authentic,omitempty"`
	ConfidenceScore *float64       `json:"confidence_score,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}
