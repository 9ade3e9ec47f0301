// ==============================================================================
// WALLET LEDGER SERVICE - internal/wallet/service.go
// ==============================================================================
package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"reseller/internal/domain"
	"reseller/internal/monitoring"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
)

// Repository applies every balance change together with its ledger entry in
// one atomic unit. A reused entry reference must fail with
// errors.ErrDuplicateReference and leave the balance untouched.
type Repository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	FindByOwner(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	ApplyDebit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, entry *domain.Transaction) (*domain.Wallet, error)
	ApplyCredit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, entry *domain.Transaction) (*domain.Wallet, error)
	ApplyTransfer(ctx context.Context, fromID, toID uuid.UUID, debit, credit decimal.Decimal, entry *domain.Transaction) error
	FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*domain.Transaction, error)
}

// Currencies is satisfied by currency.Service.
type Currencies interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Currency, error)
	Convert(ctx context.Context, amount decimal.Decimal, fromID, toID uuid.UUID) (decimal.Decimal, error)
}

type Service struct {
	repo       Repository
	currencies Currencies
	logger     logger.Logger
}

func NewService(repo Repository, currencies Currencies, log logger.Logger) *Service {
	return &Service{
		repo:       repo,
		currencies: currencies,
		logger:     log,
	}
}

type CreateWalletRequest struct {
	UserID     uuid.UUID `json:"user_id" validate:"required"`
	CurrencyID uuid.UUID `json:"currency_id" validate:"required"`
}

// EntryRequest describes a single-wallet debit or credit. Amount is expressed
// in CurrencyID and converted to the wallet currency when they differ.
type EntryRequest struct {
	WalletID    uuid.UUID       `json:"wallet_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	CurrencyID  uuid.UUID       `json:"currency_id" validate:"required"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
}

type TransferRequest struct {
	FromWalletID uuid.UUID       `json:"from_wallet_id" validate:"required"`
	ToWalletID   uuid.UUID       `json:"to_wallet_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"required"`
	CurrencyID   uuid.UUID       `json:"currency_id" validate:"required"`
	Reference    string          `json:"reference"`
	Description  string          `json:"description"`
}

type BalanceResponse struct {
	WalletID   uuid.UUID       `json:"wallet_id"`
	CurrencyID uuid.UUID       `json:"currency_id"`
	Balance    decimal.Decimal `json:"balance"`
}

func (s *Service) CreateWallet(ctx context.Context, req *CreateWalletRequest) (*domain.Wallet, error) {
	if _, err := s.currencies.Get(ctx, req.CurrencyID); err != nil {
		return nil, err
	}

	now := time.Now()
	wallet := &domain.Wallet{
		ID:          uuid.New(),
		OwnerUserID: req.UserID,
		Balance:     decimal.Zero,
		CurrencyID:  req.CurrencyID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, wallet); err != nil {
		return nil, err
	}

	s.logger.Info("Wallet created", map[string]interface{}{
		"wallet_id": wallet.ID,
		"user_id":   req.UserID,
	})
	return wallet, nil
}

func (s *Service) GetWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) GetUserWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return s.repo.FindByOwner(ctx, userID)
}

func (s *Service) GetBalance(ctx context.Context, walletID uuid.UUID) (*BalanceResponse, error) {
	wallet, err := s.repo.FindByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{
		WalletID:   wallet.ID,
		CurrencyID: wallet.CurrencyID,
		Balance:    wallet.Balance,
	}, nil
}

func (s *Service) History(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListTransactions(ctx, walletID, limit, offset)
}

// TransactionByReference returns the ledger entry recorded under reference.
func (s *Service) TransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	return s.repo.FindTransactionByReference(ctx, reference)
}

// Debit removes funds from a wallet. It fails with ErrInsufficientFunds and
// leaves the balance unchanged when the wallet cannot cover the amount.
// Replaying a reference returns the original entry.
func (s *Service) Debit(ctx context.Context, req *EntryRequest) (*domain.Transaction, error) {
	return s.apply(ctx, domain.TransactionTypeDebit, req)
}

// Credit adds funds to a wallet.
func (s *Service) Credit(ctx context.Context, req *EntryRequest) (*domain.Transaction, error) {
	return s.apply(ctx, domain.TransactionTypeCredit, req)
}

// Refund returns exactly what a previous debit took from its wallet, in the
// wallet's currency, under the given reference.
func (s *Service) Refund(ctx context.Context, debitID uuid.UUID, reference, description string) (*domain.Transaction, error) {
	debit, err := s.repo.FindTransactionByID(ctx, debitID)
	if err != nil {
		return nil, err
	}
	if debit.Type != domain.TransactionTypeDebit || debit.SenderWalletID == nil {
		return nil, fmt.Errorf("transaction %s is not a wallet debit: %w", debitID, errors.ErrInvalidAmount)
	}

	amount, currencyID := debit.SettledAmount()
	return s.apply(ctx, domain.TransactionTypeRefund, &EntryRequest{
		WalletID:    *debit.SenderWalletID,
		Amount:      amount,
		CurrencyID:  currencyID,
		Reference:   reference,
		Description: description,
	})
}

func (s *Service) apply(ctx context.Context, txType domain.TransactionType, req *EntryRequest) (*domain.Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}

	wallet, err := s.repo.FindByID(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}

	entry := s.newEntry(txType, req.Reference, req.Amount, req.CurrencyID, req.Description)
	settled, err := s.settle(ctx, entry, wallet.CurrencyID)
	if err != nil {
		return nil, err
	}

	if txType == domain.TransactionTypeDebit {
		entry.SenderWalletID = &wallet.ID
		_, err = s.repo.ApplyDebit(ctx, wallet.ID, settled, entry)
	} else {
		entry.ReceiverWalletID = &wallet.ID
		_, err = s.repo.ApplyCredit(ctx, wallet.ID, settled, entry)
	}
	if err != nil {
		if errors.Is(err, errors.ErrDuplicateReference) {
			return s.replay(ctx, entry)
		}
		if errors.Is(err, errors.ErrInsufficientFunds) {
			s.logger.Warn("Debit rejected", map[string]interface{}{
				"wallet_id": wallet.ID,
				"amount":    settled.String(),
				"reference": entry.Reference,
			})
		}
		return nil, err
	}

	monitoring.LedgerEntries.WithLabelValues(string(txType)).Inc()
	s.logger.Info("Ledger entry applied", map[string]interface{}{
		"wallet_id":      wallet.ID,
		"type":           txType,
		"amount":         settled.String(),
		"reference":      entry.Reference,
		"transaction_id": entry.ID,
	})
	return entry, nil
}

// Transfer moves funds between two wallets; either both balances change or
// neither does.
func (s *Service) Transfer(ctx context.Context, req *TransferRequest) (*domain.Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}
	if req.FromWalletID == req.ToWalletID {
		return nil, errors.ErrSameWallet
	}

	from, err := s.repo.FindByID(ctx, req.FromWalletID)
	if err != nil {
		return nil, err
	}
	to, err := s.repo.FindByID(ctx, req.ToWalletID)
	if err != nil {
		return nil, err
	}

	entry := s.newEntry(domain.TransactionTypeTransfer, req.Reference, req.Amount, req.CurrencyID, req.Description)
	entry.SenderWalletID = &from.ID
	entry.ReceiverWalletID = &to.ID

	debit, err := s.convert(ctx, req.Amount, req.CurrencyID, from.CurrencyID)
	if err != nil {
		return nil, err
	}
	credit, err := s.convert(ctx, req.Amount, req.CurrencyID, to.CurrencyID)
	if err != nil {
		return nil, err
	}
	// a cross-currency entry records the receiving side
	if to.CurrencyID != req.CurrencyID {
		entry.ConvertedAmount = &credit
		entry.ConvertedCurrencyID = &to.CurrencyID
	}

	if err := s.repo.ApplyTransfer(ctx, from.ID, to.ID, debit, credit, entry); err != nil {
		if errors.Is(err, errors.ErrDuplicateReference) {
			return s.replay(ctx, entry)
		}
		return nil, err
	}

	monitoring.LedgerEntries.WithLabelValues(string(domain.TransactionTypeTransfer)).Inc()
	s.logger.Info("Transfer applied", map[string]interface{}{
		"from_wallet_id": from.ID,
		"to_wallet_id":   to.ID,
		"debit":          debit.String(),
		"credit":         credit.String(),
		"reference":      entry.Reference,
	})
	return entry, nil
}

func (s *Service) newEntry(txType domain.TransactionType, reference string, amount decimal.Decimal, currencyID uuid.UUID, description string) *domain.Transaction {
	id := uuid.New()
	reference = strings.TrimSpace(reference)
	if reference == "" {
		reference = string(txType) + ":" + id.String()
	}
	return &domain.Transaction{
		ID:              id,
		Reference:       reference,
		Type:            txType,
		Amount:          amount,
		CurrencyID:      currencyID,
		Description:     description,
		Status:          domain.TransactionStatusCompleted,
		TransactionDate: time.Now(),
	}
}

// settle converts the entry amount into the wallet currency and records the
// converted side on the entry when a conversion happened.
func (s *Service) settle(ctx context.Context, entry *domain.Transaction, walletCurrency uuid.UUID) (decimal.Decimal, error) {
	settled, err := s.convert(ctx, entry.Amount, entry.CurrencyID, walletCurrency)
	if err != nil {
		return decimal.Zero, err
	}
	if walletCurrency != entry.CurrencyID {
		entry.ConvertedAmount = &settled
		entry.ConvertedCurrencyID = &walletCurrency
	}
	return settled, nil
}

func (s *Service) convert(ctx context.Context, amount decimal.Decimal, from, to uuid.UUID) (decimal.Decimal, error) {
	converted, err := s.currencies.Convert(ctx, amount, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if !converted.IsPositive() {
		return decimal.Zero, errors.ErrInvalidAmount
	}
	return converted, nil
}

// replay resolves a reused reference: the same operation returns the stored
// entry, anything else is a conflict.
func (s *Service) replay(ctx context.Context, attempted *domain.Transaction) (*domain.Transaction, error) {
	existing, err := s.repo.FindTransactionByReference(ctx, attempted.Reference)
	if err != nil {
		return nil, err
	}
	if existing.Type != attempted.Type ||
		!existing.Amount.Equal(attempted.Amount) ||
		existing.CurrencyID != attempted.CurrencyID ||
		!sameWallet(existing.SenderWalletID, attempted.SenderWalletID) ||
		!sameWallet(existing.ReceiverWalletID, attempted.ReceiverWalletID) {
		return nil, errors.ErrDuplicateReference
	}

	s.logger.Debug("Ledger reference replayed", map[string]interface{}{
		"reference":      existing.Reference,
		"transaction_id": existing.ID,
	})
	return existing, nil
}

func sameWallet(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
