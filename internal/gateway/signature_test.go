package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reseller/pkg/errors"
)

func TestSigner_VerifyCallback(t *testing.T) {
	signer := NewSigner("shared-secret")
	cb := &Callback{
		AppTransactionRef:      "W-1",
		ProviderTransactionRef: "P-1",
		Status:                 "success",
		Amount:                 "100.00",
		Currency:               "KES",
	}
	signer.SignCallback(cb)

	require.NoError(t, signer.VerifyCallback(cb))

	t.Run("tampered amount", func(t *testing.T) {
		tampered := *cb
		tampered.Amount = "1000.00"
		assert.ErrorIs(t, signer.VerifyCallback(&tampered), errors.ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.ErrorIs(t, NewSigner("other").VerifyCallback(cb), errors.ErrInvalidSignature)
	})

	t.Run("not hex", func(t *testing.T) {
		bad := *cb
		bad.Signature = "zz-not-hex"
		assert.ErrorIs(t, signer.VerifyCallback(&bad), errors.ErrInvalidSignature)
	})

	t.Run("empty secret never verifies", func(t *testing.T) {
		assert.ErrorIs(t, NewSigner("").Verify([]byte("x"), NewSigner("").Sign([]byte("x"))), errors.ErrInvalidSignature)
	})
}

func TestCallback_Canonical(t *testing.T) {
	cb := &Callback{
		AppTransactionRef:      "W-1",
		ProviderTransactionRef: "P-1",
		Status:                 "failed",
		Amount:                 "5",
		Currency:               "MWK",
		ReasonCode:             "INSUFFICIENT_FLOAT",
	}
	assert.Equal(t, "W-1|P-1|failed|5|MWK|INSUFFICIENT_FLOAT", cb.Canonical())
}
