package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"reseller/pkg/errors"
)

// Callback is the provider's asynchronous result notification. Amount is kept
// as the raw string so the signed form is byte-for-byte what was sent.
type Callback struct {
	AppTransactionRef      string `json:"app_transaction_ref"`
	ProviderTransactionRef string `json:"provider_transaction_ref"`
	Status                 string `json:"status"`
	Amount                 string `json:"amount"`
	Currency               string `json:"currency"`
	ReasonCode             string `json:"reason_code,omitempty"`
	Signature              string `json:"signature"`
}

// Canonical is the signed representation:
// app_ref|provider_ref|status|amount|currency|reason_code
func (c *Callback) Canonical() string {
	return strings.Join([]string{
		c.AppTransactionRef,
		c.ProviderTransactionRef,
		c.Status,
		c.Amount,
		c.Currency,
		c.ReasonCode,
	}, "|")
}

// ParseCallback decodes and shape-checks a callback body. It does not verify
// the signature.
func ParseCallback(payload []byte) (*Callback, error) {
	var cb Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedCallback, err)
	}
	if cb.AppTransactionRef == "" && cb.ProviderTransactionRef == "" {
		return nil, fmt.Errorf("%w: missing transaction reference", errors.ErrMalformedCallback)
	}
	if cb.Signature == "" {
		return nil, errors.ErrInvalidSignature
	}
	switch Status(strings.ToLower(cb.Status)) {
	case StatusSuccess, StatusFailed, StatusPending:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", errors.ErrMalformedCallback, cb.Status)
	}
	if cb.Amount != "" {
		if _, err := decimal.NewFromString(cb.Amount); err != nil {
			return nil, fmt.Errorf("%w: bad amount", errors.ErrMalformedCallback)
		}
	}
	return &cb, nil
}

// Outcome converts a verified callback into a settlement outcome.
func (c *Callback) Outcome() *Outcome {
	o := &Outcome{
		AppTransactionRef:      c.AppTransactionRef,
		ProviderTransactionRef: c.ProviderTransactionRef,
		Status:                 Status(strings.ToLower(c.Status)),
		Currency:               strings.ToUpper(c.Currency),
		ReasonCode:             c.ReasonCode,
		Source:                 SourceCallback,
	}
	if c.Amount != "" {
		amt, _ := decimal.NewFromString(c.Amount)
		o.Amount = &amt
	}
	return o
}

type OutcomeSource string

const (
	SourceCallback OutcomeSource = "callback"
	SourcePoll     OutcomeSource = "poll"
	SourceSubmit   OutcomeSource = "submit"
)

// Outcome is a provider result from any channel: webhook, status poll or the
// submit response itself.
type Outcome struct {
	AppTransactionRef      string
	ProviderTransactionRef string
	Status                 Status
	Amount                 *decimal.Decimal
	Currency               string
	ReasonCode             string
	Source                 OutcomeSource
}

// OutcomeFromStatus builds an outcome from a status poll.
func OutcomeFromStatus(appRef string, st *StatusResult) *Outcome {
	return &Outcome{
		AppTransactionRef:      appRef,
		ProviderTransactionRef: st.ProviderTransactionRef,
		Status:                 st.Status,
		Amount:                 st.Amount,
		Currency:               strings.ToUpper(st.Currency),
		ReasonCode:             st.ReasonCode,
		Source:                 SourcePoll,
	}
}
