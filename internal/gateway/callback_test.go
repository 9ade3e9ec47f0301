package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reseller/pkg/errors"
)

func TestParseCallback(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cb, err := ParseCallback([]byte(`{"app_transaction_ref":"W-1","provider_transaction_ref":"P-1","status":"SUCCESS","amount":"100.00","currency":"kes","signature":"ab"}`))
		require.NoError(t, err)

		o := cb.Outcome()
		assert.Equal(t, StatusSuccess, o.Status)
		assert.Equal(t, "KES", o.Currency)
		assert.Equal(t, "100", o.Amount.String())
		assert.Equal(t, SourceCallback, o.Source)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ParseCallback([]byte(`status=success`))
		assert.ErrorIs(t, err, errors.ErrMalformedCallback)
	})

	t.Run("missing references", func(t *testing.T) {
		_, err := ParseCallback([]byte(`{"status":"success","signature":"ab"}`))
		assert.ErrorIs(t, err, errors.ErrMalformedCallback)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := ParseCallback([]byte(`{"app_transaction_ref":"W-1","status":"success"}`))
		assert.ErrorIs(t, err, errors.ErrInvalidSignature)
	})

	t.Run("unknown status", func(t *testing.T) {
		_, err := ParseCallback([]byte(`{"app_transaction_ref":"W-1","status":"reversed","signature":"ab"}`))
		assert.ErrorIs(t, err, errors.ErrMalformedCallback)
	})

	t.Run("bad amount", func(t *testing.T) {
		_, err := ParseCallback([]byte(`{"app_transaction_ref":"W-1","status":"failed","amount":"ten","signature":"ab"}`))
		assert.ErrorIs(t, err, errors.ErrMalformedCallback)
	})
}
