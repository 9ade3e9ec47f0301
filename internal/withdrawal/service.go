// ==============================================================================
// WITHDRAWAL SETTLEMENT SERVICE - internal/withdrawal/service.go
// ==============================================================================
package withdrawal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"reseller/internal/domain"
	"reseller/internal/gateway"
	"reseller/internal/monitoring"
	"reseller/internal/wallet"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
)

// Repository persists withdrawals. Transition is a compare-and-set on status:
// it writes status, provider reference, error message and timestamps only when
// the stored status still equals from, and returns errors.ErrStaleState
// otherwise.
type Repository interface {
	Create(ctx context.Context, w *domain.Withdrawal) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	FindByAppRef(ctx context.Context, appRef string) (*domain.Withdrawal, error)
	FindByProviderRef(ctx context.Context, providerRef string) (*domain.Withdrawal, error)
	FindBySourceID(ctx context.Context, sourceID uuid.UUID) ([]*domain.Withdrawal, error)
	List(ctx context.Context, filter ListFilter) ([]*domain.Withdrawal, error)
	Transition(ctx context.Context, w *domain.Withdrawal, from domain.WithdrawalStatus) error
	SetDebitTransaction(ctx context.Context, id, transactionID uuid.UUID) error
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	// MarkRefunded sets the refunded marker once; later calls are no-ops.
	MarkRefunded(ctx context.Context, id, refundTransactionID uuid.UUID) error
	// FindStale returns withdrawals in status whose submitted_at (or
	// created_at when never submitted) is before the cutoff, oldest first.
	FindStale(ctx context.Context, status domain.WithdrawalStatus, before time.Time, limit int) ([]*domain.Withdrawal, error)
	FindPendingRefunds(ctx context.Context, limit int) ([]*domain.Withdrawal, error)
}

type ListFilter = domain.WithdrawalFilter

// Ledger is satisfied by wallet.Service.
type Ledger interface {
	Debit(ctx context.Context, req *wallet.EntryRequest) (*domain.Transaction, error)
	Refund(ctx context.Context, debitID uuid.UUID, reference, description string) (*domain.Transaction, error)
	TransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)
}

type Currencies interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Currency, error)
}

type CallbackVerifier interface {
	VerifyCallback(cb *gateway.Callback) error
}

// Observer is told about every terminal transition, once per transition.
type Observer interface {
	WithdrawalSettled(ctx context.Context, w *domain.Withdrawal)
}

type Config struct {
	MaxAttempts    int
	RetryBackoff   time.Duration
	AttemptTimeout time.Duration
	CallbackWindow time.Duration
	ExpiryWindow   time.Duration
	BatchSize      int
}

type Service struct {
	repo       Repository
	ledger     Ledger
	currencies Currencies
	gateway    gateway.Client
	verifier   CallbackVerifier
	logger     logger.Logger
	cfg        Config

	mu        sync.RWMutex
	observers []Observer

	now    func() time.Time
	newRef func() string
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewService(
	repo Repository,
	ledger Ledger,
	currencies Currencies,
	client gateway.Client,
	verifier CallbackVerifier,
	cfg Config,
	log logger.Logger,
) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Service{
		repo:       repo,
		ledger:     ledger,
		currencies: currencies,
		gateway:    client,
		verifier:   verifier,
		logger:     log,
		cfg:        cfg,
		now:        time.Now,
		newRef:     NewAppTransactionRef,
		sleep:      sleepContext,
	}
}

// NewAppTransactionRef returns a fresh, never reused provider idempotency key.
func NewAppTransactionRef() string {
	return "W-" + ulid.Make().String()
}

// Observe registers o for terminal transitions.
func (s *Service) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

type CreateRequest struct {
	Amount          decimal.Decimal          `json:"amount" validate:"required,gt=0"`
	CurrencyID      uuid.UUID                `json:"currency_id" validate:"required"`
	Operator        domain.Operator          `json:"operator" validate:"required,operator"`
	CustomerName    string                   `json:"customer_name" validate:"required,max=120"`
	CustomerPhone   string                   `json:"customer_phone" validate:"required,msisdn"`
	CustomerEmail   *string                  `json:"customer_email,omitempty" validate:"omitempty,email"`
	Reason          string                   `json:"reason" validate:"required,max=255"`
	WalletID        *uuid.UUID               `json:"wallet_id,omitempty"`
	Purpose         domain.WithdrawalPurpose `json:"-"`
	SourceID        *uuid.UUID               `json:"-"`
	CreatedByUserID uuid.UUID                `json:"-"`
}

// Create persists a CREATED withdrawal with a new AppTransactionRef. When a
// wallet is named the amount is debited from it first. A debit the ledger
// refuses leaves the withdrawal FAILED; any other funding error leaves it
// CREATED so Submit or the sweep can replay the debit under the same reference.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*domain.Withdrawal, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	purpose := req.Purpose
	if purpose == "" {
		purpose = domain.WithdrawalPurposeAdminPayout
	}

	now := s.now()
	w := &domain.Withdrawal{
		ID:                uuid.New(),
		Amount:            req.Amount,
		CurrencyID:        req.CurrencyID,
		Operator:          domain.Operator(strings.ToUpper(string(req.Operator))),
		CustomerName:      strings.TrimSpace(req.CustomerName),
		CustomerPhone:     strings.TrimSpace(req.CustomerPhone),
		CustomerEmail:     req.CustomerEmail,
		Reason:            strings.TrimSpace(req.Reason),
		AppTransactionRef: s.newRef(),
		Status:            domain.WithdrawalStatusCreated,
		Purpose:           purpose,
		SourceID:          req.SourceID,
		WalletID:          req.WalletID,
		CreatedByUserID:   req.CreatedByUserID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}
	monitoring.WithdrawalsCreated.WithLabelValues(string(purpose)).Inc()

	log := s.logger.With(map[string]interface{}{
		"withdrawal_id":       w.ID,
		"app_transaction_ref": w.AppTransactionRef,
	})

	if w.WalletID != nil {
		if err := s.fund(ctx, w); err != nil {
			if !debitRefused(err) {
				log.Error("Withdrawal funding incomplete, left for retry", map[string]interface{}{"error": err})
				return nil, err
			}
			log.Warn("Withdrawal debit failed", map[string]interface{}{"error": err})
			if _, ferr := s.applyOutcome(ctx, w, &gateway.Outcome{
				Status:     gateway.StatusFailed,
				ReasonCode: "wallet debit failed: " + err.Error(),
				Source:     gateway.SourceSubmit,
			}); ferr != nil {
				log.Error("Failed to close unfunded withdrawal", map[string]interface{}{"error": ferr})
			}
			return nil, err
		}
	}

	log.Info("Withdrawal created", map[string]interface{}{
		"amount":   w.Amount.String(),
		"operator": w.Operator,
		"purpose":  w.Purpose,
	})
	return w, nil
}

func (s *Service) validate(ctx context.Context, req *CreateRequest) error {
	if !req.Amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if !domain.Operator(strings.ToUpper(string(req.Operator))).Valid() {
		return errors.Wrap(errors.ErrInvalidRecipient, "unsupported operator")
	}
	if strings.TrimSpace(req.CustomerName) == "" || strings.TrimSpace(req.CustomerPhone) == "" {
		return errors.ErrInvalidRecipient
	}
	currency, err := s.currencies.Get(ctx, req.CurrencyID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.ErrInvalidCurrency
		}
		return err
	}
	if !req.Amount.Equal(req.Amount.Round(currency.Decimals)) {
		return errors.Wrap(errors.ErrInvalidAmount, "more precision than the currency allows")
	}
	return nil
}

// fund debits the source wallet under the withdrawal's own ledger reference,
// so a repeated call returns the original debit.
func (s *Service) fund(ctx context.Context, w *domain.Withdrawal) error {
	tx, err := s.ledger.Debit(ctx, &wallet.EntryRequest{
		WalletID:    *w.WalletID,
		Amount:      w.Amount,
		CurrencyID:  w.CurrencyID,
		Reference:   debitReference(w),
		Description: "Withdrawal " + w.AppTransactionRef,
	})
	if err != nil {
		return err
	}
	if err := s.repo.SetDebitTransaction(ctx, w.ID, tx.ID); err != nil {
		return err
	}
	w.DebitTransactionID = &tx.ID
	return nil
}

// debitRefused reports whether the ledger rejected a debit without writing it.
func debitRefused(err error) bool {
	return errors.Is(err, errors.ErrInsufficientFunds) || errors.Is(err, errors.ErrInvalidAmount)
}

// recoverDebit records a debit that reached the ledger but not the withdrawal
// row. A withdrawal with no entry under its debit reference is left as is.
func (s *Service) recoverDebit(ctx context.Context, w *domain.Withdrawal) error {
	if w.WalletID == nil || w.DebitTransactionID != nil {
		return nil
	}
	tx, err := s.ledger.TransactionByReference(ctx, debitReference(w))
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.repo.SetDebitTransaction(ctx, w.ID, tx.ID); err != nil {
		return err
	}
	w.DebitTransactionID = &tx.ID
	s.logger.Warn("Recovered unrecorded withdrawal debit", map[string]interface{}{
		"withdrawal_id":        w.ID,
		"debit_transaction_id": tx.ID,
	})
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) GetByAppRef(ctx context.Context, appRef string) (*domain.Withdrawal, error) {
	return s.repo.FindByAppRef(ctx, appRef)
}

func (s *Service) FindBySource(ctx context.Context, sourceID uuid.UUID) ([]*domain.Withdrawal, error) {
	return s.repo.FindBySourceID(ctx, sourceID)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*domain.Withdrawal, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) notify(ctx context.Context, w *domain.Withdrawal) {
	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()

	for _, o := range observers {
		snapshot := *w
		o.WithdrawalSettled(ctx, &snapshot)
	}
}

func debitReference(w *domain.Withdrawal) string {
	return "withdrawal:" + w.AppTransactionRef
}

func refundReference(w *domain.Withdrawal) string {
	return "refund:" + w.AppTransactionRef
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
