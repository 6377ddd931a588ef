package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veristamp/veristamp/internal/model"
)

// APIKeyRepository wraps all SQL touching api_keys.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository constructs a repository.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

const apiKeyColumns = `id, user_id, name, key_hash, active, rate_limit, requests_count, expires_at, last_used_at, created_at`

func scanAPIKey(row pgx.Row) (*model.APIKey, error) {
	var k model.APIKey
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.Active, &k.RateLimit,
		&k.RequestsCount, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// Create inserts a new key. Only the hash of the secret is stored.
func (r *APIKeyRepository) Create(ctx context.Context, k *model.APIKey) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, name, key_hash, active, rate_limit, requests_count, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8)
	`, k.ID, k.UserID, k.Name, k.KeyHash, k.Active, k.RateLimit, k.ExpiresAt, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// Resolve looks up an active key by the hash of the presented secret.
// Inactive and unknown keys are indistinguishable: both are ErrKeyInvalid.
func (r *APIKeyRepository) Resolve(ctx context.Context, keyHash string) (*model.APIKey, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=$1 AND active=TRUE`, keyHash)
	k, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyInvalid
		}
		return nil, fmt.Errorf("select api key: %w", err)
	}
	return k, nil
}

// Charge increments the usage counter and stamps last_used_at in a single
// atomic UPDATE, returning the post-increment count. The increment lands
// before any ceiling comparison happens, so the request that crosses the
// rate limit is itself charged.
func (r *APIKeyRepository) Charge(ctx context.Context, id string, at time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		UPDATE api_keys SET requests_count = requests_count + 1, last_used_at=$1
		WHERE id=$2
		RETURNING requests_count
	`, at.UTC(), id).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrKeyInvalid
		}
		return 0, fmt.Errorf("charge api key: %w", err)
	}
	return count, nil
}

// Revoke deactivates a key. Revoked keys are rejected but kept for audit.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE api_keys SET active=FALSE WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser returns all keys for one account, newest first.
func (r *APIKeyRepository) ListByUser(ctx context.Context, userID string) ([]model.APIKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}
