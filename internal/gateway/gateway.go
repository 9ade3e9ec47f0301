// Package gateway talks to the external mobile-money payout provider.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
	"reseller/internal/domain"
)

// Client submits payouts and queries their status. Submit must be safe to
// repeat with the same AppTransactionRef; the provider deduplicates on it.
type Client interface {
	Submit(ctx context.Context, req *PayoutRequest) (*SubmitResult, error)
	QueryStatus(ctx context.Context, appTransactionRef string) (*StatusResult, error)
}

type Recipient struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type PayoutRequest struct {
	AppTransactionRef string          `json:"app_transaction_ref"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Operator          domain.Operator `json:"operator"`
	Recipient         Recipient       `json:"recipient"`
	Reason            string          `json:"reason"`
}

// SubmitResult is the provider's synchronous answer. Accepted=false is a
// definitive rejection; transport failures are returned as errors instead.
type SubmitResult struct {
	Accepted               bool
	ProviderTransactionRef string
	Reason                 string
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusNotFound Status = "not_found"
)

// Definitive reports whether the status settles a withdrawal.
func (s Status) Definitive() bool {
	return s == StatusSuccess || s == StatusFailed
}

type StatusResult struct {
	Status                 Status
	ProviderTransactionRef string
	ReasonCode             string
	Amount                 *decimal.Decimal
	Currency               string
}
