package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"reseller/internal/domain"
	"reseller/pkg/errors"
)

const withdrawalColumns = `id, amount, currency_id, operator, customer_name, customer_phone, customer_email,
	reason, app_transaction_ref, provider_transaction_ref, status, purpose, source_id, wallet_id,
	debit_transaction_id, refunded, refund_transaction_id, attempts, created_by_user_id, error_message,
	submitted_at, completed_at, created_at, updated_at`

type WithdrawalRepository struct {
	db *sqlx.DB
}

func NewWithdrawalRepository(db *sqlx.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, w *domain.Withdrawal) error {
	query := `
		INSERT INTO finance.withdrawals (` + withdrawalColumns + `) VALUES (
			:id, :amount, :currency_id, :operator, :customer_name, :customer_phone, :customer_email,
			:reason, :app_transaction_ref, :provider_transaction_ref, :status, :purpose, :source_id, :wallet_id,
			:debit_transaction_id, :refunded, :refund_transaction_id, :attempts, :created_by_user_id, :error_message,
			:submitted_at, :completed_at, :created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, w)
	if violates(err, codeUniqueViolation, "app_transaction_ref") {
		return errors.ErrDuplicateAppRef
	}
	if violates(err, codeForeignKeyViolation, "currency") {
		return errors.ErrInvalidCurrency
	}
	return errors.Wrap(err, "failed to create withdrawal")
}

func (r *WithdrawalRepository) findOne(ctx context.Context, where string, arg interface{}) (*domain.Withdrawal, error) {
	w := &domain.Withdrawal{}
	err := r.db.GetContext(ctx, w, `SELECT `+withdrawalColumns+` FROM finance.withdrawals WHERE `+where, arg)
	if err != nil {
		return nil, notFound(err, errors.ErrWithdrawalNotFound, "failed to find withdrawal")
	}
	return w, nil
}

func (r *WithdrawalRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *WithdrawalRepository) FindByAppRef(ctx context.Context, appRef string) (*domain.Withdrawal, error) {
	return r.findOne(ctx, "app_transaction_ref = $1", appRef)
}

func (r *WithdrawalRepository) FindByProviderRef(ctx context.Context, providerRef string) (*domain.Withdrawal, error) {
	return r.findOne(ctx, "provider_transaction_ref = $1", providerRef)
}

func (r *WithdrawalRepository) FindBySourceID(ctx context.Context, sourceID uuid.UUID) ([]*domain.Withdrawal, error) {
	var ws []*domain.Withdrawal
	query := `SELECT ` + withdrawalColumns + ` FROM finance.withdrawals WHERE source_id = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &ws, query, sourceID); err != nil {
		return nil, errors.Wrap(err, "failed to find withdrawals by source")
	}
	return ws, nil
}

func (r *WithdrawalRepository) List(ctx context.Context, filter domain.WithdrawalFilter) ([]*domain.Withdrawal, error) {
	var ws []*domain.Withdrawal
	var where []string
	args := []interface{}{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Purpose != nil {
		args = append(args, *filter.Purpose)
		where = append(where, fmt.Sprintf("purpose = $%d", len(args)))
	}

	query := `SELECT ` + withdrawalColumns + ` FROM finance.withdrawals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	if err := r.db.SelectContext(ctx, &ws, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list withdrawals")
	}
	return ws, nil
}

// Transition writes the new status only while the row is still in from.
func (r *WithdrawalRepository) Transition(ctx context.Context, w *domain.Withdrawal, from domain.WithdrawalStatus) error {
	if !from.CanTransitionTo(w.Status) {
		return errors.ErrInvalidTransition
	}

	var row struct {
		Refunded            bool       `db:"refunded"`
		RefundTransactionID *uuid.UUID `db:"refund_transaction_id"`
		DebitTransactionID  *uuid.UUID `db:"debit_transaction_id"`
		Attempts            int        `db:"attempts"`
	}
	query := `
		UPDATE finance.withdrawals SET
			status = $1,
			provider_transaction_ref = $2,
			error_message = $3,
			submitted_at = $4,
			completed_at = $5,
			updated_at = NOW()
		WHERE id = $6 AND status = $7
		RETURNING refunded, refund_transaction_id, debit_transaction_id, attempts
	`
	err := r.db.GetContext(ctx, &row, query,
		w.Status, w.ProviderTransactionRef, w.ErrorMessage, w.SubmittedAt, w.CompletedAt,
		w.ID, from,
	)
	if err == sql.ErrNoRows {
		if _, ferr := r.FindByID(ctx, w.ID); ferr != nil {
			return ferr
		}
		return errors.ErrStaleState
	}
	if violates(err, codeUniqueViolation, "provider_transaction_ref") {
		return errors.Wrap(errors.ErrCallbackMismatch, "provider reference already bound to another withdrawal")
	}
	if err != nil {
		return errors.Wrap(err, "failed to transition withdrawal")
	}

	w.Refunded = row.Refunded
	w.RefundTransactionID = row.RefundTransactionID
	w.DebitTransactionID = row.DebitTransactionID
	w.Attempts = row.Attempts
	return nil
}

func (r *WithdrawalRepository) SetDebitTransaction(ctx context.Context, id, transactionID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE finance.withdrawals SET debit_transaction_id = $2, updated_at = NOW()
		WHERE id = $1`, id, transactionID)
	return r.expectRow(res, err, "failed to set withdrawal debit")
}

func (r *WithdrawalRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.db.GetContext(ctx, &attempts, `
		UPDATE finance.withdrawals SET attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 RETURNING attempts`, id)
	if err != nil {
		return 0, notFound(err, errors.ErrWithdrawalNotFound, "failed to increment withdrawal attempts")
	}
	return attempts, nil
}

func (r *WithdrawalRepository) MarkRefunded(ctx context.Context, id, refundTransactionID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE finance.withdrawals SET refunded = TRUE, refund_transaction_id = $2, updated_at = NOW()
		WHERE id = $1 AND NOT refunded`, id, refundTransactionID)
	if err != nil {
		return errors.Wrap(err, "failed to mark withdrawal refunded")
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		// already refunded, or missing
		_, err := r.FindByID(ctx, id)
		return err
	}
	return nil
}

func (r *WithdrawalRepository) FindStale(ctx context.Context, status domain.WithdrawalStatus, before time.Time, limit int) ([]*domain.Withdrawal, error) {
	var ws []*domain.Withdrawal
	query := `
		SELECT ` + withdrawalColumns + ` FROM finance.withdrawals
		WHERE status = $1 AND COALESCE(submitted_at, created_at) < $2
		ORDER BY COALESCE(submitted_at, created_at)
		LIMIT $3
	`
	if err := r.db.SelectContext(ctx, &ws, query, status, before, limit); err != nil {
		return nil, errors.Wrap(err, "failed to find stale withdrawals")
	}
	return ws, nil
}

func (r *WithdrawalRepository) FindPendingRefunds(ctx context.Context, limit int) ([]*domain.Withdrawal, error) {
	var ws []*domain.Withdrawal
	query := `
		SELECT ` + withdrawalColumns + ` FROM finance.withdrawals
		WHERE status = 'FAILED' AND NOT refunded
			AND wallet_id IS NOT NULL AND debit_transaction_id IS NOT NULL
		ORDER BY completed_at
		LIMIT $1
	`
	if err := r.db.SelectContext(ctx, &ws, query, limit); err != nil {
		return nil, errors.Wrap(err, "failed to find pending refunds")
	}
	return ws, nil
}

func (r *WithdrawalRepository) expectRow(res sql.Result, err error, message string) error {
	if err != nil {
		return errors.Wrap(err, message)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.ErrWithdrawalNotFound
	}
	return nil
}
