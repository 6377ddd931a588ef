// Package analysis owns the lifecycle of one analysis record: it claims the
// pending job, runs the detector, and writes the terminal state.
package analysis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veristamp/veristamp/internal/audit"
	"github.com/veristamp/veristamp/internal/detector"
	"github.com/veristamp/veristamp/internal/model"
)

// MediaStore resolves the media record a job refers to.
type MediaStore interface {
	Get(ctx context.Context, id string) (*model.MediaFile, error)
}

// Store is the analysis persistence surface. ClaimPending must be a guarded
// atomic update: it reports claimed=false when the analysis already left
// pending, which is what makes dispatch idempotent.
type Store interface {
	GetByMedia(ctx context.Context, mediaFileID string) (*model.Analysis, error)
	ClaimPending(ctx context.Context, id string, startedAt time.Time) (bool, error)
	Complete(ctx context.Context, id string, c model.Completion) error
	MarkFailed(ctx context.Context, id string) error
}

// CertificateIssuer fires once on the success path.
type CertificateIssuer interface {
	Issue(ctx context.Context, a *model.Analysis) (*model.Certificate, error)
}

// Recorder is the audit trail surface.
type Recorder interface {
	Record(ctx context.Context, userID, action, resourceType, resourceID string, details model.Map)
}

// Engine drives one analysis from pending to a terminal state.
type Engine struct {
	media    MediaStore
	analyses Store
	issuer   CertificateIssuer
	det      detector.Detector
	audit    Recorder
	log      *zap.SugaredLogger
}

// NewEngine constructs an Engine.
func NewEngine(media MediaStore, analyses Store, issuer CertificateIssuer, det detector.Detector, trail Recorder, log *zap.SugaredLogger) *Engine {
	return &Engine{
		media:    media,
		analyses: analyses,
		issuer:   issuer,
		det:      det,
		audit:    trail,
		log:      log,
	}
}

// Run executes the analysis attached to a media file. Duplicate dispatches
// are no-ops: only the call that wins the pending->processing claim invokes
// the detector. The detector call is the sole blocking step; the completion
// write is one transaction so a failure leaves zero indicators behind.
//
// Detector errors and completion-write errors terminate the analysis as
// failed. Only a failure of the claim write itself is returned for retry,
// since the record provably has not moved.
func (e *Engine) Run(ctx context.Context, mediaFileID string, mode model.AnalysisMode) error {
	media, err := e.media.Get(ctx, mediaFileID)
	if err != nil {
		return fmt.Errorf("resolve media %s: %w", mediaFileID, err)
	}
	a, err := e.analyses.GetByMedia(ctx, mediaFileID)
	if err != nil {
		return fmt.Errorf("resolve analysis for media %s: %w", mediaFileID, err)
	}

	started := time.Now().UTC()
	claimed, err := e.analyses.ClaimPending(ctx, a.ID, started)
	if err != nil {
		return fmt.Errorf("claim analysis %s: %w", a.ID, err)
	}
	if !claimed {
		e.log.Infow("analysis already dispatched", "analysis_id", a.ID, "status", a.Status)
		return nil
	}

	e.audit.Record(ctx, a.UserID, audit.ActionAnalysisStarted, "analysis", a.ID, model.Map{
		"media_file_id": mediaFileID,
		"analysis_type": string(mode),
	})

	verdict, err := e.det.Analyze(ctx, media, mode)
	if err != nil {
		e.log.Errorw("detector failed", "analysis_id", a.ID, "error", err)
		return e.fail(ctx, a.ID)
	}
	if err := verdict.Validate(media.FileType, mode); err != nil {
		e.log.Errorw("detector verdict violates contract", "analysis_id", a.ID, "error", err)
		return e.fail(ctx, a.ID)
	}

	completedAt := time.Now().UTC()
	completion := model.Completion{
		ConfidenceScore:   verdict.ConfidenceScore,
		IsAuthentic:       verdict.IsAuthentic,
		ManipulationTypes: verdict.ManipulationTypes,
		ProcessingTimeMS:  completedAt.Sub(started).Milliseconds(),
		DetectorVersion:   e.det.Version(),
		CompletedAt:       completedAt,
		Indicators:        indicatorsFromFindings(verdict.Findings),
	}
	if err := e.analyses.Complete(ctx, a.ID, completion); err != nil {
		e.log.Errorw("persist completion failed", "analysis_id", a.ID, "error", err)
		return e.fail(ctx, a.ID)
	}

	// Re-read not needed for issuance; patch the fields the issuer checks.
	a.Status = model.StatusCompleted
	a.IsAuthentic = &completion.IsAuthentic
	if _, err := e.issuer.Issue(ctx, a); err != nil {
		// Best-effort: issuance failure never rolls back the completed
		// transition.
		e.log.Errorw("certificate issuance failed", "analysis_id", a.ID, "error", err)
	}

	e.audit.Record(ctx, a.UserID, audit.ActionAnalysisCompleted, "analysis", a.ID, model.Map{
		"confidence_score": completion.ConfidenceScore,
		"is_authentic":     completion.IsAuthentic,
		"indicators_count": len(completion.Indicators),
	})
	e.log.Infow("analysis completed",
		"analysis_id", a.ID,
		"is_authentic", completion.IsAuthentic,
		"confidence_score", completion.ConfidenceScore,
		"indicators", len(completion.Indicators),
		"processing_time_ms", completion.ProcessingTimeMS,
	)
	return nil
}

func (e *Engine) fail(ctx context.Context, analysisID string) error {
	if err := e.analyses.MarkFailed(ctx, analysisID); err != nil {
		return fmt.Errorf("mark analysis %s failed: %w", analysisID, err)
	}
	return nil
}

func indicatorsFromFindings(findings []detector.Finding) []model.Indicator {
	out := make([]model.Indicator, 0, len(findings))
	for _, f := range findings {
		out = append(out, model.Indicator{
			Kind:         f.Kind,
			Category:     f.Category,
			Severity:     f.Severity,
			Confidence:   f.Confidence,
			Description:  f.Description,
			LocationData: f.Location,
			EvidenceData: f.Evidence,
		})
	}
	return out
}
