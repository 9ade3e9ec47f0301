package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"reseller/pkg/errors"
)

// Signer computes and checks HMAC-SHA256 signatures with the secret shared
// with the provider. Signatures are lowercase hex.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time.
func (s *Signer) Verify(payload []byte, signature string) error {
	if len(s.secret) == 0 {
		return errors.ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return errors.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errors.ErrInvalidSignature
	}
	return nil
}

// VerifyCallback checks the signature over the callback's canonical string.
func (s *Signer) VerifyCallback(cb *Callback) error {
	return s.Verify([]byte(cb.Canonical()), cb.Signature)
}

// SignCallback fills in the signature; used by the provider simulator and tests.
func (s *Signer) SignCallback(cb *Callback) {
	cb.Signature = s.Sign([]byte(cb.Canonical()))
}
