// Package signing implements the HMAC helper used to sign issued
// certificates.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Scheme is the tag recorded alongside every signature.
const Scheme = "HMAC-SHA256"

// Signer generates and validates HMAC based certificate signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature over a certificate hash and its issuance
// time.
func (s *Signer) Sign(certificateHash string, issuedUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	payload := fmt.Sprintf("%s:%d", certificateHash, issuedUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected one in constant
// time.
func (s *Signer) Validate(certificateHash, issued, signature string) bool {
	ts, err := strconv.ParseInt(issued, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(certificateHash, ts)
	return hmac.Equal([]byte(expected), []byte(signature))
}
