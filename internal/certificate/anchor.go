package certificate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Anchorer records a certificate hash on an external ledger and returns an
// opaque transaction reference. Anchoring is best-effort: callers persist
// the certificate with the anchor fields absent when it fails.
type Anchorer interface {
	Anchor(ctx context.Context, certificateHash string) (txid, network string, err error)
}

// NoopAnchorer never anchors. The default when no network is configured.
type NoopAnchorer struct{}

// Anchor implements Anchorer.
func (NoopAnchorer) Anchor(context.Context, string) (string, string, error) {
	return "", "", nil
}

// SimulatedAnchorer fabricates transaction ids for dev stacks where the
// dashboard expects an anchor reference to render.
type SimulatedAnchorer struct {
	Network string
}

// Anchor implements Anchorer.
func (s SimulatedAnchorer) Anchor(_ context.Context, _ string) (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("simulate txid: %w", err)
	}
	return "0x" + hex.EncodeToString(buf), s.Network, nil
}
