// Package certificate issues the attestation record produced for every
// completed analysis.
package certificate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veristamp/veristamp/internal/model"
	"github.com/veristamp/veristamp/internal/repository"
	"github.com/veristamp/veristamp/internal/signing"
)

// Store is the persistence surface the issuer needs.
type Store interface {
	Create(ctx context.Context, c *model.Certificate) error
	GetByMedia(ctx context.Context, mediaFileID string) (*model.Certificate, error)
}

// Issuer produces exactly one certificate per media file.
type Issuer struct {
	store   Store
	anchor  Anchorer
	signer  *signing.Signer
	network string
	log     *zap.SugaredLogger
}

// NewIssuer constructs an Issuer. The anchorer may be NoopAnchorer when no
// external anchoring is configured.
func NewIssuer(store Store, anchor Anchorer, signer *signing.Signer, network string, log *zap.SugaredLogger) *Issuer {
	return &Issuer{store: store, anchor: anchor, signer: signer, network: network, log: log}
}

// Issue creates the certificate for a completed analysis. Issuance is
// idempotent per media file: if one already exists it is returned as-is.
// Anchoring is best-effort; an unavailable anchor leaves the txid absent
// and never blocks persistence.
func (i *Issuer) Issue(ctx context.Context, a *model.Analysis) (*model.Certificate, error) {
	if a.Status != model.StatusCompleted || a.IsAuthentic == nil {
		return nil, fmt.Errorf("issue certificate: analysis %s is not completed", a.ID)
	}
	if existing, err := i.store.GetByMedia(ctx, a.MediaFileID); err == nil {
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check existing certificate: %w", err)
	}

	now := time.Now().UTC()
	hash := strings.ReplaceAll(uuid.NewString(), "-", "")

	certType := model.CertVerifiedManipulated
	if *a.IsAuthentic {
		certType = model.CertVerifiedAuthentic
	}

	cert := &model.Certificate{
		ID:              uuid.NewString(),
		MediaFileID:     a.MediaFileID,
		CertificateHash: hash,
		IssuerID:        a.UserID,
		Type:            certType,
		Data: model.Map{
			"verification_method": "multi_modal_analysis",
			"timestamp":           now.Format(time.RFC3339),
			"signature_scheme":    signing.Scheme,
			"signature":           i.signer.Sign(hash, now.Unix()),
		},
		ValidFrom: now,
	}

	if txid, network, err := i.anchor.Anchor(ctx, hash); err != nil {
		i.log.Warnw("certificate anchoring unavailable", "media_file_id", a.MediaFileID, "error", err)
	} else if txid != "" {
		cert.AnchorTxID = &txid
		cert.AnchorNetwork = network
	}

	if err := i.store.Create(ctx, cert); err != nil {
		if errors.Is(err, repository.ErrCertificateExists) {
			// Lost a race with a concurrent issuance; the winner's record is
			// the certificate.
			return i.store.GetByMedia(ctx, a.MediaFileID)
		}
		return nil, fmt.Errorf("persist certificate: %w", err)
	}
	return cert, nil
}
