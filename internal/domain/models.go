// Package domain holds the entities shared by the wallet ledger, the
// withdrawal settlement engine and the contributor revenue-sharing engine.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency is read-only from the settlement core's perspective.
// ExchangeRate is expressed as units of this currency per base unit.
type Currency struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Code         string          `json:"code" db:"code"`
	Name         string          `json:"name" db:"name"`
	ExchangeRate decimal.Decimal `json:"exchange_rate" db:"exchange_rate"`
	Decimals     int32           `json:"decimals" db:"decimals"`
}

// Wallet is the single balance a user holds. Balance never goes negative.
type Wallet struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OwnerUserID uuid.UUID       `json:"owner_user_id" db:"owner_user_id"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	CurrencyID  uuid.UUID       `json:"currency_id" db:"currency_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

type TransactionType string

const (
	TransactionTypeDebit    TransactionType = "debit"
	TransactionTypeCredit   TransactionType = "credit"
	TransactionTypeTransfer TransactionType = "transfer"
	TransactionTypeRefund   TransactionType = "refund"
)

type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
)

// Transaction is an append-only ledger entry. A withdrawal debit has no
// receiver wallet; a top-up or refund has no sender wallet.
type Transaction struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	Reference        string          `json:"reference" db:"reference"`
	Type             TransactionType `json:"type" db:"type"`
	SenderWalletID   *uuid.UUID      `json:"sender_wallet_id,omitempty" db:"sender_wallet_id"`
	ReceiverWalletID *uuid.UUID      `json:"receiver_wallet_id,omitempty" db:"receiver_wallet_id"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	CurrencyID       uuid.UUID       `json:"currency_id" db:"currency_id"`
	// Converted* are set when the wallet currency differs from CurrencyID.
	ConvertedAmount     *decimal.Decimal  `json:"converted_amount,omitempty" db:"converted_amount"`
	ConvertedCurrencyID *uuid.UUID        `json:"converted_currency_id,omitempty" db:"converted_currency_id"`
	Description         string            `json:"description" db:"description"`
	Status              TransactionStatus `json:"status" db:"status"`
	TransactionDate     time.Time         `json:"transaction_date" db:"transaction_date"`
}

// SettledAmount returns the amount and currency that actually moved on the wallet.
func (t *Transaction) SettledAmount() (decimal.Decimal, uuid.UUID) {
	if t.ConvertedAmount != nil && t.ConvertedCurrencyID != nil {
		return *t.ConvertedAmount, *t.ConvertedCurrencyID
	}
	return t.Amount, t.CurrencyID
}

// Operator is the external mobile-money channel used for a payout.
type Operator string

const (
	OperatorMpesa       Operator = "MPESA"
	OperatorAirtelMoney Operator = "AIRTEL_MONEY"
	OperatorMTNMoMo     Operator = "MTN_MOMO"
	OperatorOrangeMoney Operator = "ORANGE_MONEY"
)

func (o Operator) Valid() bool {
	switch o {
	case OperatorMpesa, OperatorAirtelMoney, OperatorMTNMoMo, OperatorOrangeMoney:
		return true
	}
	return false
}

type WithdrawalStatus string

const (
	WithdrawalStatusCreated   WithdrawalStatus = "CREATED"
	WithdrawalStatusSubmitted WithdrawalStatus = "SUBMITTED"
	WithdrawalStatusSuccess   WithdrawalStatus = "SUCCESS"
	WithdrawalStatusFailed    WithdrawalStatus = "FAILED"
	WithdrawalStatusExpired   WithdrawalStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is allowed.
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalStatusSuccess || s == WithdrawalStatusFailed || s == WithdrawalStatusExpired
}

// CanTransitionTo enforces CREATED -> SUBMITTED -> terminal, never backwards.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	switch s {
	case WithdrawalStatusCreated:
		return next == WithdrawalStatusSubmitted || next == WithdrawalStatusSuccess ||
			next == WithdrawalStatusFailed || next == WithdrawalStatusExpired
	case WithdrawalStatusSubmitted:
		return next.IsTerminal()
	}
	return false
}

type WithdrawalPurpose string

const (
	WithdrawalPurposeAdminPayout      WithdrawalPurpose = "ADMIN_PAYOUT"
	WithdrawalPurposeContributorShare WithdrawalPurpose = "CONTRIBUTOR_SHARE"
)

// Withdrawal is one external payout. AppTransactionRef is the idempotency key
// toward the provider and is never reused.
type Withdrawal struct {
	ID                     uuid.UUID         `json:"id" db:"id"`
	Amount                 decimal.Decimal   `json:"amount" db:"amount"`
	CurrencyID             uuid.UUID         `json:"currency_id" db:"currency_id"`
	Operator               Operator          `json:"operator" db:"operator"`
	CustomerName           string            `json:"customer_name" db:"customer_name"`
	CustomerPhone          string            `json:"customer_phone" db:"customer_phone"`
	CustomerEmail          *string           `json:"customer_email,omitempty" db:"customer_email"`
	Reason                 string            `json:"reason" db:"reason"`
	AppTransactionRef      string            `json:"app_transaction_ref" db:"app_transaction_ref"`
	ProviderTransactionRef *string           `json:"provider_transaction_ref,omitempty" db:"provider_transaction_ref"`
	Status                 WithdrawalStatus  `json:"status" db:"status"`
	Purpose                WithdrawalPurpose `json:"purpose" db:"purpose"`
	SourceID               *uuid.UUID        `json:"source_id,omitempty" db:"source_id"`
	WalletID               *uuid.UUID        `json:"wallet_id,omitempty" db:"wallet_id"`
	DebitTransactionID     *uuid.UUID        `json:"debit_transaction_id,omitempty" db:"debit_transaction_id"`
	Refunded               bool              `json:"refunded" db:"refunded"`
	RefundTransactionID    *uuid.UUID        `json:"refund_transaction_id,omitempty" db:"refund_transaction_id"`
	Attempts               int               `json:"attempts" db:"attempts"`
	CreatedByUserID        uuid.UUID         `json:"created_by_user_id" db:"created_by_user_id"`
	ErrorMessage           *string           `json:"error_message,omitempty" db:"error_message"`
	SubmittedAt            *time.Time        `json:"submitted_at,omitempty" db:"submitted_at"`
	CompletedAt            *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt              time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at" db:"updated_at"`
}

// WithdrawalFilter narrows withdrawal listings; nil fields match everything.
type WithdrawalFilter struct {
	Status  *WithdrawalStatus
	Purpose *WithdrawalPurpose
	Limit   int
	Offset  int
}

// NeedsRefund reports whether a wallet debit was taken and not yet returned.
func (w *Withdrawal) NeedsRefund() bool {
	return w.WalletID != nil && w.DebitTransactionID != nil && !w.Refunded
}

type AmountType string

const (
	AmountTypeFixed      AmountType = "FIXED"
	AmountTypePercentage AmountType = "PERCENTAGE"
)

// ContributorPaymentConfig holds one contributor's payout rule.
type ContributorPaymentConfig struct {
	ID                 uuid.UUID        `json:"id" db:"id"`
	UserID             uuid.UUID        `json:"user_id" db:"user_id"`
	PayeeName          string           `json:"payee_name" db:"payee_name"`
	IsActive           bool             `json:"is_active" db:"is_active"`
	AmountType         AmountType       `json:"amount_type" db:"amount_type"`
	FixedAmount        *decimal.Decimal `json:"fixed_amount,omitempty" db:"fixed_amount"`
	PercentageValue    *decimal.Decimal `json:"percentage_value,omitempty" db:"percentage_value"`
	MinProfitThreshold *decimal.Decimal `json:"min_profit_threshold,omitempty" db:"min_profit_threshold"`
	UseGlobalThreshold bool             `json:"use_global_threshold" db:"use_global_threshold"`
	AlwaysPay          bool             `json:"always_pay" db:"always_pay"`
	CurrencyID         uuid.UUID        `json:"currency_id" db:"currency_id"`
	PhoneNumber        string           `json:"phone_number" db:"phone_number"`
	Operator           *Operator        `json:"operator,omitempty" db:"operator"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

// GlobalPaymentSettings is a single-row table.
type GlobalPaymentSettings struct {
	MinProfitThreshold *decimal.Decimal `json:"min_profit_threshold,omitempty" db:"min_profit_threshold"`
	PaymentDayOfMonth  int              `json:"payment_day_of_month" db:"payment_day_of_month"`
	IsEnabled          bool             `json:"is_enabled" db:"is_enabled"`
	LastPaymentRun     *time.Time       `json:"last_payment_run,omitempty" db:"last_payment_run"`
	// LastPaymentPeriod is the latest YYYY-MM period a run has completed.
	LastPaymentPeriod *string   `json:"last_payment_period,omitempty" db:"last_payment_period"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// ContributorPayment is unique per (ConfigID, PaymentPeriod).
type ContributorPayment struct {
	ID                     uuid.UUID       `json:"id" db:"id"`
	ConfigID               uuid.UUID       `json:"config_id" db:"config_id"`
	UserID                 uuid.UUID       `json:"user_id" db:"user_id"`
	AmountPaid             decimal.Decimal `json:"amount_paid" db:"amount_paid"`
	CurrencyID             uuid.UUID       `json:"currency_id" db:"currency_id"`
	PaymentPeriod          string          `json:"payment_period" db:"payment_period"`
	NetProfitAtTime        decimal.Decimal `json:"net_profit_at_time" db:"net_profit_at_time"`
	PaymentStatus          PaymentStatus   `json:"payment_status" db:"payment_status"`
	WithdrawalID           *uuid.UUID      `json:"withdrawal_id,omitempty" db:"withdrawal_id"`
	ProviderTransactionRef *string         `json:"provider_transaction_ref,omitempty" db:"provider_transaction_ref"`
	ProviderResponse       *string         `json:"provider_response,omitempty" db:"provider_response"`
	FailureReason          *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	Attempt                int             `json:"attempt" db:"attempt"`
	ProcessedAt            *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}
