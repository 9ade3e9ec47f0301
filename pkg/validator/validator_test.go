package validator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type payoutInput struct {
	Amount   decimal.Decimal `validate:"gt=0"`
	Phone    string          `validate:"required,msisdn"`
	Operator string          `validate:"required,operator"`
}

func TestValidate_PayoutInput(t *testing.T) {
	v := New()

	ok := payoutInput{Amount: decimal.NewFromInt(10), Phone: "+254700000001", Operator: "MPESA"}
	assert.NoError(t, v.Validate(ok))

	bad := payoutInput{Amount: decimal.Zero, Phone: "0700", Operator: "PAYPAL"}
	errs := v.ValidateStructured(bad)
	assert.Contains(t, errs, "Amount")
	assert.Equal(t, "Invalid phone number format (E.164 required)", errs["Phone"])
	assert.Equal(t, "Unsupported mobile money operator", errs["Operator"])
}

func TestValidPhone(t *testing.T) {
	assert.True(t, ValidPhone("+265991234567"))
	assert.True(t, ValidPhone(" +254700000001 "))
	assert.False(t, ValidPhone("254700000001"))
	assert.False(t, ValidPhone("+0123456789"))
	assert.False(t, ValidPhone("+12"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt;", Sanitize("  <b>hi</b> "))
}
