// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Validation errors. These never mutate state.
var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCurrency  = errors.New("invalid currency")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrInvalidPeriod    = errors.New("invalid payment period")
	ErrInvalidSettings  = errors.New("invalid payment settings")
	ErrInvalidConfig    = errors.New("invalid contributor payment config")
)

// Ledger errors
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrSameWallet         = errors.New("source and destination wallet are the same")
	ErrDuplicateReference = errors.New("ledger reference already used")
	ErrWalletExists       = errors.New("wallet already exists for user")
)

// Lookup errors. All of them match ErrNotFound with errors.Is.
var (
	ErrNotFound                = errors.New("not found")
	ErrWalletNotFound          = fmt.Errorf("wallet %w", ErrNotFound)
	ErrCurrencyNotFound        = fmt.Errorf("currency %w", ErrNotFound)
	ErrWithdrawalNotFound      = fmt.Errorf("withdrawal %w", ErrNotFound)
	ErrConfigNotFound          = fmt.Errorf("contributor payment config %w", ErrNotFound)
	ErrPaymentNotFound         = fmt.Errorf("contributor payment %w", ErrNotFound)
	ErrSettingsNotFound        = fmt.Errorf("global payment settings %w", ErrNotFound)
	ErrFinancialReportNotFound = fmt.Errorf("financial report %w", ErrNotFound)
)

// Settlement errors
var (
	ErrInvalidSignature  = errors.New("invalid callback signature")
	ErrMalformedCallback = errors.New("malformed gateway callback")
	ErrCallbackMismatch  = errors.New("callback does not match withdrawal")
	ErrGatewayTimeout    = errors.New("payout gateway timeout")
	ErrGatewayRejected   = errors.New("payout gateway rejected request")
	ErrDuplicateAppRef   = errors.New("app transaction reference already exists")
	ErrStaleState        = errors.New("withdrawal state changed concurrently")
	ErrInvalidTransition = errors.New("invalid withdrawal status transition")
)

// Revenue sharing errors
var (
	ErrDuplicatePeriodPayment = errors.New("contributor already has a payment for this period")
	ErrConfigIncomplete       = errors.New("contributor payment config incomplete")
	ErrDuplicateConfig        = errors.New("contributor already has a payment config")
	ErrPaymentNotRetryable    = errors.New("contributor payment is not in a retryable state")
	ErrRunInProgress          = errors.New("revenue share run already in progress")
)

// HTTP errors
var (
	ErrDuplicateRequest = errors.New("duplicate request in progress")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(message string) error {
	return errors.New(message)
}
