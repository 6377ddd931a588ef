package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veristamp/veristamp/internal/model"
)

// AnalysisRepository wraps all SQL used by the gateway and the worker for
// analyses and their indicators. Status transitions are expressed as guarded
// UPDATEs so the forward-only state machine is enforced by the database, not
// just by application code.
type AnalysisRepository struct {
	pool *pgxpool.Pool
}

// NewAnalysisRepository constructs a repository.
func NewAnalysisRepository(pool *pgxpool.Pool) *AnalysisRepository {
	return &AnalysisRepository{pool: pool}
}

// Create inserts a pending analysis. The UNIQUE constraint on media_file_id
// keeps the relationship 1:1; a conflict surfaces as ErrAnalysisExists.
func (r *AnalysisRepository) Create(ctx context.Context, a *model.Analysis) error {
	a.Status = model.StatusPending
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO analyses (id, media_file_id, user_id, status, analysis_type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, a.ID, a.MediaFileID, a.UserID, a.Status, a.Mode, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAnalysisExists
		}
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

const analysisColumns = `id, media_file_id, user_id, status, analysis_type, confidence_score,
	is_authentic, is_manipulated, manipulation_types, processing_time_ms, detector_version,
	started_at, completed_at, created_at`

func scanAnalysis(row pgx.Row) (*model.Analysis, error) {
	var a model.Analysis
	err := row.Scan(&a.ID, &a.MediaFileID, &a.UserID, &a.Status, &a.Mode, &a.ConfidenceScore,
		&a.IsAuthentic, &a.IsManipulated, &a.ManipulationTypes, &a.ProcessingTimeMS, &a.DetectorVersion,
		&a.StartedAt, &a.CompletedAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select analysis: %w", err)
	}
	return &a, nil
}

// Get returns an analysis scoped to its owner. A row owned by another
// account is reported as ErrNotFound, never as forbidden.
func (r *AnalysisRepository) Get(ctx context.Context, id, userID string) (*model.Analysis, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id=$1 AND user_id=$2`, id, userID)
	return scanAnalysis(row)
}

// GetByMedia returns the single analysis attached to a media file.
func (r *AnalysisRepository) GetByMedia(ctx context.Context, mediaFileID string) (*model.Analysis, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE media_file_id=$1`, mediaFileID)
	return scanAnalysis(row)
}

// ClaimPending moves pending -> processing. The status guard makes dispatch
// idempotent: zero rows affected means another dispatch already claimed the
// job (or it already reached a terminal state) and the caller must not run
// the detector.
func (r *AnalysisRepository) ClaimPending(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE analyses SET status=$1, started_at=$2
		WHERE id=$3 AND status=$4
	`, model.StatusProcessing, startedAt.UTC(), id, model.StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim analysis: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Complete writes the terminal completed state and all indicators in one
// transaction. A rollback leaves no partial indicator writes behind.
func (r *AnalysisRepository) Complete(ctx context.Context, id string, c model.Completion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin completion: %w", err)
	}
	defer tx.Rollback(ctx)

	isManipulated := !c.IsAuthentic
	tag, err := tx.Exec(ctx, `
		UPDATE analyses
		SET status=$1, confidence_score=$2, is_authentic=$3, is_manipulated=$4,
			manipulation_types=$5, processing_time_ms=$6, detector_version=$7, completed_at=$8
		WHERE id=$9 AND status=$10
	`, model.StatusCompleted, c.ConfidenceScore, c.IsAuthentic, isManipulated,
		c.ManipulationTypes, c.ProcessingTimeMS, c.DetectorVersion, c.CompletedAt.UTC(),
		id, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("complete analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete analysis %s: not in processing state", id)
	}
	for i := range c.Indicators {
		ind := &c.Indicators[i]
		if ind.ID == "" {
			ind.ID = uuid.NewString()
		}
		ind.AnalysisID = id
		if ind.CreatedAt.IsZero() {
			ind.CreatedAt = c.CompletedAt.UTC()
		}
		location, err := marshalMap(ind.LocationData)
		if err != nil {
			return fmt.Errorf("marshal location data: %w", err)
		}
		evidence, err := marshalMap(ind.EvidenceData)
		if err != nil {
			return fmt.Errorf("marshal evidence data: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO detection_indicators (id, analysis_id, indicator_type, category, severity, confidence, description, location_data, evidence_data, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, ind.ID, ind.AnalysisID, ind.Kind, ind.Category, ind.Severity, ind.Confidence, ind.Description, location, evidence, ind.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert indicator: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// MarkFailed moves processing -> failed. Terminal; never invoked for rows
// that have not been claimed.
func (r *AnalysisRepository) MarkFailed(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE analyses SET status=$1, completed_at=$2
		WHERE id=$3 AND status=$4
	`, model.StatusFailed, time.Now().UTC(), id, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark analysis failed: %w", err)
	}
	return nil
}

// Indicators returns all evidence attached to an analysis.
func (r *AnalysisRepository) Indicators(ctx context.Context, analysisID string) ([]model.Indicator, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, analysis_id, indicator_type, category, severity, confidence, description, location_data, evidence_data, created_at
		FROM detection_indicators WHERE analysis_id=$1
		ORDER BY severity, confidence DESC
	`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("select indicators: %w", err)
	}
	defer rows.Close()

	var out []model.Indicator
	for rows.Next() {
		var (
			ind                model.Indicator
			location, evidence []byte
		)
		if err := rows.Scan(&ind.ID, &ind.AnalysisID, &ind.Kind, &ind.Category, &ind.Severity, &ind.Confidence, &ind.Description, &location, &evidence, &ind.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		if err := unmarshalMap(location, &ind.LocationData); err != nil {
			return nil, fmt.Errorf("decode location data: %w", err)
		}
		if err := unmarshalMap(evidence, &ind.EvidenceData); err != nil {
			return nil, fmt.Errorf("decode evidence data: %w", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// List returns the newest-first projection for one account.
func (r *AnalysisRepository) List(ctx context.Context, userID string, limit, offset int) ([]model.AnalysisSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.status, m.file_name, a.is_authentic, a.confidence_score, a.created_at, a.completed_at
		FROM analyses a
		JOIN media_files m ON m.id = a.media_file_id
		WHERE a.user_id=$1
		ORDER BY a.created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []model.AnalysisSummary
	for rows.Next() {
		var s model.AnalysisSummary
		if err := rows.Scan(&s.AnalysisID, &s.Status, &s.FileName, &s.IsAuthentic, &s.ConfidenceScore, &s.CreatedAt, &s.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan analysis summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
