package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"reseller/pkg/errors"
)

// AuditFinding is one invariant violation found by the consistency audit.
type AuditFinding struct {
	Check    string `db:"check_name" json:"check"`
	EntityID string `db:"entity_id" json:"entity_id"`
	Detail   string `db:"detail" json:"detail"`
}

// AuditRepository runs read-only consistency checks over the ledger and the
// withdrawal tables.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// NegativeBalances should always be empty; the balance check constraint
// makes it a canary for manual edits.
func (r *AuditRepository) NegativeBalances(ctx context.Context) ([]AuditFinding, error) {
	return r.findings(ctx, `
		SELECT 'negative_balance' AS check_name, id::text AS entity_id,
		       'balance ' || balance::text AS detail
		FROM finance.wallets
		WHERE balance < 0`)
}

// StuckWithdrawals lists non-terminal withdrawals untouched since before.
func (r *AuditRepository) StuckWithdrawals(ctx context.Context, before time.Time) ([]AuditFinding, error) {
	return r.findings(ctx, `
		SELECT 'stuck_withdrawal' AS check_name, id::text AS entity_id,
		       app_transaction_ref || ' ' || status || ' since ' || COALESCE(submitted_at, created_at)::text AS detail
		FROM finance.withdrawals
		WHERE status IN ('CREATED', 'SUBMITTED') AND COALESCE(submitted_at, created_at) < $1
		ORDER BY COALESCE(submitted_at, created_at)`, before)
}

// RefundMismatches finds withdrawals whose refund marker disagrees with
// their status or with the refund ledger entry.
func (r *AuditRepository) RefundMismatches(ctx context.Context) ([]AuditFinding, error) {
	return r.findings(ctx, `
		SELECT 'refund_marker' AS check_name, id::text AS entity_id,
		       app_transaction_ref || ' refunded=' || refunded::text || ' refund_tx=' || COALESCE(refund_transaction_id::text, 'none') AS detail
		FROM finance.withdrawals
		WHERE refunded <> (refund_transaction_id IS NOT NULL)
		UNION ALL
		SELECT 'refund_on_non_failed', id::text, app_transaction_ref || ' ' || status
		FROM finance.withdrawals
		WHERE refunded AND status <> 'FAILED'
		UNION ALL
		SELECT 'refund_pending', id::text, app_transaction_ref || ' failed at ' || COALESCE(completed_at::text, '?')
		FROM finance.withdrawals
		WHERE status = 'FAILED' AND NOT refunded AND wallet_id IS NOT NULL AND debit_transaction_id IS NOT NULL`)
}

// PaymentMismatches finds contributor payments whose status disagrees with
// the withdrawal that settled them.
func (r *AuditRepository) PaymentMismatches(ctx context.Context) ([]AuditFinding, error) {
	return r.findings(ctx, `
		SELECT 'payment_status' AS check_name, p.id::text AS entity_id,
		       p.payment_period || ' payment ' || p.payment_status || ' withdrawal ' || w.status AS detail
		FROM finance.contributor_payments p
		JOIN finance.withdrawals w ON w.id = p.withdrawal_id
		WHERE (p.payment_status = 'COMPLETED' AND w.status <> 'SUCCESS')
		   OR (p.payment_status = 'PROCESSING' AND w.status IN ('SUCCESS', 'FAILED', 'EXPIRED'))`)
}

func (r *AuditRepository) findings(ctx context.Context, query string, args ...interface{}) ([]AuditFinding, error) {
	var out []AuditFinding
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to run audit query")
	}
	return out, nil
}
