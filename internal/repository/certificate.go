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

// CertificateRepository wraps all SQL touching content_certificates.
type CertificateRepository struct {
	pool *pgxpool.Pool
}

// NewCertificateRepository constructs a repository.
func NewCertificateRepository(pool *pgxpool.Pool) *CertificateRepository {
	return &CertificateRepository{pool: pool}
}

// Create inserts a certificate. The UNIQUE constraint on media_file_id
// backs the at-most-one-certificate-per-media invariant; losing a race
// surfaces as ErrCertificateExists.
func (r *CertificateRepository) Create(ctx context.Context, c *model.Certificate) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	data, err := marshalMap(c.Data)
	if err != nil {
		return fmt.Errorf("marshal certificate data: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO content_certificates (id, media_file_id, certificate_hash, anchor_txid, anchor_network, issuer_id, certificate_type, certificate_data, valid_from, valid_until, revoked, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,FALSE,$11)
	`, c.ID, c.MediaFileID, c.CertificateHash, c.AnchorTxID, c.AnchorNetwork, c.IssuerID, c.Type, data, c.ValidFrom, c.ValidUntil, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCertificateExists
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// GetByMedia returns the certificate issued for a media file, if any.
func (r *CertificateRepository) GetByMedia(ctx context.Context, mediaFileID string) (*model.Certificate, error) {
	var (
		c    model.Certificate
		data []byte
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, media_file_id, certificate_hash, anchor_txid, anchor_network, issuer_id, certificate_type, certificate_data, valid_from, valid_until, revoked, created_at
		FROM content_certificates WHERE media_file_id=$1
	`, mediaFileID)
	if err := row.Scan(&c.ID, &c.MediaFileID, &c.CertificateHash, &c.AnchorTxID, &c.AnchorNetwork, &c.IssuerID, &c.Type, &data, &c.ValidFrom, &c.ValidUntil, &c.Revoked, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select certificate: %w", err)
	}
	if err := unmarshalMap(data, &c.Data); err != nil {
		return nil, fmt.Errorf("decode certificate data: %w", err)
	}
	return &c, nil
}

// Revoke flips the revocation flag, the only field a later process may
// change on an issued certificate.
func (r *CertificateRepository) Revoke(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE content_certificates SET revoked=TRUE WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("revoke certificate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
