package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veristamp/veristamp/internal/model"
)

// MediaRepository wraps all SQL touching media_files.
type MediaRepository struct {
	pool *pgxpool.Pool
}

// NewMediaRepository constructs a repository.
func NewMediaRepository(pool *pgxpool.Pool) *MediaRepository {
	return &MediaRepository{pool: pool}
}

// Create inserts a media file record. Media files are immutable after this.
func (r *MediaRepository) Create(ctx context.Context, m *model.MediaFile) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	meta, err := marshalMap(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO media_files (id, user_id, file_name, file_type, file_size, mime_type, storage_path, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, m.ID, m.UserID, m.FileName, m.FileType, m.FileSize, m.MimeType, m.StoragePath, meta, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert media file: %w", err)
	}
	return nil
}

// Get returns a media file by id.
func (r *MediaRepository) Get(ctx context.Context, id string) (*model.MediaFile, error) {
	var (
		m    model.MediaFile
		meta []byte
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, file_name, file_type, file_size, mime_type, storage_path, metadata, created_at
		FROM media_files WHERE id=$1
	`, id)
	if err := row.Scan(&m.ID, &m.UserID, &m.FileName, &m.FileType, &m.FileSize, &m.MimeType, &m.StoragePath, &meta, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select media file: %w", err)
	}
	if err := unmarshalMap(meta, &m.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &m, nil
}

func marshalMap(m model.Map) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMap(data []byte, dst *model.Map) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
