package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"reseller/internal/domain"
	"reseller/pkg/errors"
)

type WalletRepository struct {
	s *Store
}

func (r *WalletRepository) Create(_ context.Context, w *domain.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.wallets {
		if existing.OwnerUserID == w.OwnerUserID {
			return errors.ErrWalletExists
		}
	}
	r.s.wallets[w.ID] = *w
	return nil
}

func (r *WalletRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.wallets[id]
	if !ok {
		return nil, errors.ErrWalletNotFound
	}
	return &w, nil
}

func (r *WalletRepository) FindByOwner(_ context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.wallets {
		if w.OwnerUserID == userID {
			w := w
			return &w, nil
		}
	}
	return nil, errors.ErrWalletNotFound
}

func (r *WalletRepository) ApplyDebit(_ context.Context, walletID uuid.UUID, amount decimal.Decimal, entry *domain.Transaction) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[walletID]
	if !ok {
		return nil, errors.ErrWalletNotFound
	}
	if _, dup := r.s.txByRef[entry.Reference]; dup {
		return nil, errors.ErrDuplicateReference
	}
	if w.Balance.LessThan(amount) {
		return nil, errors.ErrInsufficientFunds
	}

	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = time.Now()
	r.s.wallets[walletID] = w
	r.s.appendTx(entry)
	return &w, nil
}

func (r *WalletRepository) ApplyCredit(_ context.Context, walletID uuid.UUID, amount decimal.Decimal, entry *domain.Transaction) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[walletID]
	if !ok {
		return nil, errors.ErrWalletNotFound
	}
	if _, dup := r.s.txByRef[entry.Reference]; dup {
		return nil, errors.ErrDuplicateReference
	}

	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now()
	r.s.wallets[walletID] = w
	r.s.appendTx(entry)
	return &w, nil
}

func (r *WalletRepository) ApplyTransfer(_ context.Context, fromID, toID uuid.UUID, debit, credit decimal.Decimal, entry *domain.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	from, ok := r.s.wallets[fromID]
	if !ok {
		return errors.ErrWalletNotFound
	}
	to, ok := r.s.wallets[toID]
	if !ok {
		return errors.ErrWalletNotFound
	}
	if _, dup := r.s.txByRef[entry.Reference]; dup {
		return errors.ErrDuplicateReference
	}
	if from.Balance.LessThan(debit) {
		return errors.ErrInsufficientFunds
	}

	now := time.Now()
	from.Balance = from.Balance.Sub(debit)
	from.UpdatedAt = now
	to.Balance = to.Balance.Add(credit)
	to.UpdatedAt = now
	r.s.wallets[fromID] = from
	r.s.wallets[toID] = to
	r.s.appendTx(entry)
	return nil
}

func (s *Store) appendTx(entry *domain.Transaction) {
	s.transactions[entry.ID] = *entry
	s.txByRef[entry.Reference] = entry.ID
	s.txOrder = append(s.txOrder, entry.ID)
}

func (r *WalletRepository) FindTransactionByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.transactions[id]
	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, "transaction")
	}
	return &tx, nil
}

func (r *WalletRepository) FindTransactionByReference(_ context.Context, reference string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.txByRef[reference]
	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, "transaction")
	}
	tx := r.s.transactions[id]
	return &tx, nil
}

// ListTransactions returns newest first.
func (r *WalletRepository) ListTransactions(_ context.Context, walletID uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Transaction
	skipped := 0
	for i := len(r.s.txOrder) - 1; i >= 0 && len(out) < limit; i-- {
		tx := r.s.transactions[r.s.txOrder[i]]
		if !touches(&tx, walletID) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, &tx)
	}
	return out, nil
}

func touches(tx *domain.Transaction, walletID uuid.UUID) bool {
	return (tx.SenderWalletID != nil && *tx.SenderWalletID == walletID) ||
		(tx.ReceiverWalletID != nil && *tx.ReceiverWalletID == walletID)
}

// CountEntries returns how many ledger entries exist.
func (r *WalletRepository) CountEntries() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.transactions)
}
