package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"reseller/internal/domain"
	"reseller/pkg/errors"
)

type WithdrawalRepository struct {
	s *Store
}

func (r *WithdrawalRepository) Create(_ context.Context, w *domain.Withdrawal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, dup := r.s.withdrawalByRef[w.AppTransactionRef]; dup {
		return errors.ErrDuplicateAppRef
	}
	r.s.withdrawals[w.ID] = *w
	r.s.withdrawalByRef[w.AppTransactionRef] = w.ID
	r.s.withdrawalsOrder = append(r.s.withdrawalsOrder, w.ID)
	return nil
}

func (r *WithdrawalRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.withdrawals[id]
	if !ok {
		return nil, errors.ErrWithdrawalNotFound
	}
	return &w, nil
}

func (r *WithdrawalRepository) FindByAppRef(_ context.Context, appRef string) (*domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.withdrawalByRef[appRef]
	if !ok {
		return nil, errors.ErrWithdrawalNotFound
	}
	w := r.s.withdrawals[id]
	return &w, nil
}

func (r *WithdrawalRepository) FindByProviderRef(_ context.Context, providerRef string) (*domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.withdrawals {
		if w.ProviderTransactionRef != nil && *w.ProviderTransactionRef == providerRef {
			w := w
			return &w, nil
		}
	}
	return nil, errors.ErrWithdrawalNotFound
}

func (r *WithdrawalRepository) FindBySourceID(_ context.Context, sourceID uuid.UUID) ([]*domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Withdrawal
	for _, id := range r.s.withdrawalsOrder {
		w := r.s.withdrawals[id]
		if w.SourceID != nil && *w.SourceID == sourceID {
			out = append(out, &w)
		}
	}
	return out, nil
}

// List returns newest first.
func (r *WithdrawalRepository) List(_ context.Context, filter domain.WithdrawalFilter) ([]*domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Withdrawal
	skipped := 0
	for i := len(r.s.withdrawalsOrder) - 1; i >= 0; i-- {
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		w := r.s.withdrawals[r.s.withdrawalsOrder[i]]
		if filter.Status != nil && w.Status != *filter.Status {
			continue
		}
		if filter.Purpose != nil && w.Purpose != *filter.Purpose {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, &w)
	}
	return out, nil
}

func (r *WithdrawalRepository) Transition(_ context.Context, w *domain.Withdrawal, from domain.WithdrawalStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.withdrawals[w.ID]
	if !ok {
		return errors.ErrWithdrawalNotFound
	}
	if stored.Status != from {
		return errors.ErrStaleState
	}
	if !from.CanTransitionTo(w.Status) {
		return errors.ErrInvalidTransition
	}

	stored.Status = w.Status
	stored.ProviderTransactionRef = w.ProviderTransactionRef
	stored.ErrorMessage = w.ErrorMessage
	stored.SubmittedAt = w.SubmittedAt
	stored.CompletedAt = w.CompletedAt
	stored.UpdatedAt = time.Now()
	r.s.withdrawals[w.ID] = stored

	// keep the caller's copy in step with the row
	w.Refunded = stored.Refunded
	w.RefundTransactionID = stored.RefundTransactionID
	w.DebitTransactionID = stored.DebitTransactionID
	w.Attempts = stored.Attempts
	return nil
}

func (r *WithdrawalRepository) SetDebitTransaction(_ context.Context, id, transactionID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.withdrawals[id]
	if !ok {
		return errors.ErrWithdrawalNotFound
	}
	w.DebitTransactionID = &transactionID
	w.UpdatedAt = time.Now()
	r.s.withdrawals[id] = w
	return nil
}

func (r *WithdrawalRepository) IncrementAttempts(_ context.Context, id uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.withdrawals[id]
	if !ok {
		return 0, errors.ErrWithdrawalNotFound
	}
	w.Attempts++
	r.s.withdrawals[id] = w
	return w.Attempts, nil
}

func (r *WithdrawalRepository) MarkRefunded(_ context.Context, id, refundTransactionID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.withdrawals[id]
	if !ok {
		return errors.ErrWithdrawalNotFound
	}
	if w.Refunded {
		return nil
	}
	w.Refunded = true
	w.RefundTransactionID = &refundTransactionID
	w.UpdatedAt = time.Now()
	r.s.withdrawals[id] = w
	return nil
}

func (r *WithdrawalRepository) FindStale(_ context.Context, status domain.WithdrawalStatus, before time.Time, limit int) ([]*domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Withdrawal
	for _, w := range r.s.withdrawals {
		if w.Status != status {
			continue
		}
		if since(&w).Before(before) {
			w := w
			out = append(out, &w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return since(out[i]).Before(since(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *WithdrawalRepository) FindPendingRefunds(_ context.Context, limit int) ([]*domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Withdrawal
	for _, id := range r.s.withdrawalsOrder {
		w := r.s.withdrawals[id]
		if w.Status == domain.WithdrawalStatusFailed && w.NeedsRefund() {
			out = append(out, &w)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func since(w *domain.Withdrawal) time.Time {
	if w.SubmittedAt != nil {
		return *w.SubmittedAt
	}
	return w.CreatedAt
}
