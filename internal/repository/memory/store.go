// Package memory is an in-process implementation of every repository. It
// enforces the same unique constraints and compare-and-set rules as the
// postgres repositories and is used for tests and local tooling.
package memory

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"reseller/internal/domain"
)

// Store keeps all tables behind one mutex, so each repository call is atomic.
// Values are copied in and out; callers never share memory with the store.
type Store struct {
	mu sync.Mutex

	currencies map[uuid.UUID]domain.Currency

	wallets      map[uuid.UUID]domain.Wallet
	transactions map[uuid.UUID]domain.Transaction
	txByRef      map[string]uuid.UUID
	txOrder      []uuid.UUID

	withdrawals      map[uuid.UUID]domain.Withdrawal
	withdrawalByRef  map[string]uuid.UUID
	withdrawalsOrder []uuid.UUID

	configs      map[uuid.UUID]domain.ContributorPaymentConfig
	configOrder  []uuid.UUID
	settings     *domain.GlobalPaymentSettings
	payments     map[uuid.UUID]domain.ContributorPayment
	paymentByKey map[string]uuid.UUID
	paymentOrder []uuid.UUID

	profits map[string]decimal.Decimal
}

func NewStore() *Store {
	return &Store{
		currencies:      make(map[uuid.UUID]domain.Currency),
		wallets:         make(map[uuid.UUID]domain.Wallet),
		transactions:    make(map[uuid.UUID]domain.Transaction),
		txByRef:         make(map[string]uuid.UUID),
		withdrawals:     make(map[uuid.UUID]domain.Withdrawal),
		withdrawalByRef: make(map[string]uuid.UUID),
		configs:         make(map[uuid.UUID]domain.ContributorPaymentConfig),
		payments:        make(map[uuid.UUID]domain.ContributorPayment),
		paymentByKey:    make(map[string]uuid.UUID),
		profits:         make(map[string]decimal.Decimal),
	}
}

func (s *Store) Currencies() *CurrencyRepository {
	return &CurrencyRepository{s: s}
}

func (s *Store) Wallets() *WalletRepository {
	return &WalletRepository{s: s}
}

func (s *Store) Withdrawals() *WithdrawalRepository {
	return &WithdrawalRepository{s: s}
}

func (s *Store) Configs() *ConfigRepository {
	return &ConfigRepository{s: s}
}

func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{s: s}
}

func (s *Store) Payments() *PaymentRepository {
	return &PaymentRepository{s: s}
}

func (s *Store) Reports() *ReportRepository {
	return &ReportRepository{s: s}
}
