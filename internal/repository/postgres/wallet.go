package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"reseller/internal/domain"
	"reseller/pkg/errors"
)

const (
	walletColumns      = `id, owner_user_id, balance, currency_id, created_at, updated_at`
	transactionColumns = `id, reference, type, sender_wallet_id, receiver_wallet_id, amount, currency_id,
		converted_amount, converted_currency_id, description, status, transaction_date`
)

type WalletRepository struct {
	db *sqlx.DB
}

func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) Create(ctx context.Context, wallet *domain.Wallet) error {
	query := `
		INSERT INTO finance.wallets (` + walletColumns + `)
		VALUES (:id, :owner_user_id, :balance, :currency_id, :created_at, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, wallet)
	if violates(err, codeUniqueViolation, "owner") {
		return errors.ErrWalletExists
	}
	if violates(err, codeForeignKeyViolation, "currency") {
		return errors.ErrInvalidCurrency
	}
	return errors.Wrap(err, "failed to create wallet")
}

func (r *WalletRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	wallet := &domain.Wallet{}
	err := r.db.GetContext(ctx, wallet, `SELECT `+walletColumns+` FROM finance.wallets WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, errors.ErrWalletNotFound, "failed to find wallet by id")
	}
	return wallet, nil
}

func (r *WalletRepository) FindByOwner(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	wallet := &domain.Wallet{}
	err := r.db.GetContext(ctx, wallet, `SELECT `+walletColumns+` FROM finance.wallets WHERE owner_user_id = $1`, userID)
	if err != nil {
		return nil, notFound(err, errors.ErrWalletNotFound, "failed to find wallet by owner")
	}
	return wallet, nil
}

// ApplyDebit locks the wallet row, records the entry and subtracts amount
// only while the balance covers it.
func (r *WalletRepository) ApplyDebit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, entry *domain.Transaction) (*domain.Wallet, error) {
	var wallet *domain.Wallet
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := lockWallet(ctx, tx, walletID); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, entry); err != nil {
			return err
		}

		updated := &domain.Wallet{}
		err := tx.GetContext(ctx, updated, `
			UPDATE finance.wallets SET balance = balance - $1, updated_at = NOW()
			WHERE id = $2 AND balance >= $1
			RETURNING `+walletColumns, amount, walletID)
		if err == sql.ErrNoRows {
			return errors.ErrInsufficientFunds
		}
		if err != nil {
			return errors.Wrap(err, "failed to debit wallet")
		}
		wallet = updated
		return nil
	})
	return wallet, err
}

func (r *WalletRepository) ApplyCredit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, entry *domain.Transaction) (*domain.Wallet, error) {
	var wallet *domain.Wallet
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := lockWallet(ctx, tx, walletID); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, entry); err != nil {
			return err
		}

		updated := &domain.Wallet{}
		err := tx.GetContext(ctx, updated, `
			UPDATE finance.wallets SET balance = balance + $1, updated_at = NOW()
			WHERE id = $2
			RETURNING `+walletColumns, amount, walletID)
		if err != nil {
			return errors.Wrap(err, "failed to credit wallet")
		}
		wallet = updated
		return nil
	})
	return wallet, err
}

// ApplyTransfer locks both wallets in id order so opposing transfers cannot
// deadlock.
func (r *WalletRepository) ApplyTransfer(ctx context.Context, fromID, toID uuid.UUID, debit, credit decimal.Decimal, entry *domain.Transaction) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		first, second := fromID, toID
		if second.String() < first.String() {
			first, second = second, first
		}
		if _, err := lockWallet(ctx, tx, first); err != nil {
			return err
		}
		if _, err := lockWallet(ctx, tx, second); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, entry); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE finance.wallets SET balance = balance - $1, updated_at = NOW()
			WHERE id = $2 AND balance >= $1`, debit, fromID)
		if err != nil {
			return errors.Wrap(err, "failed to debit sender wallet")
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to get rows affected")
		}
		if rows == 0 {
			return errors.ErrInsufficientFunds
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE finance.wallets SET balance = balance + $1, updated_at = NOW()
			WHERE id = $2`, credit, toID)
		return errors.Wrap(err, "failed to credit receiver wallet")
	})
}

func lockWallet(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	wallet := &domain.Wallet{}
	err := tx.GetContext(ctx, wallet, `SELECT `+walletColumns+` FROM finance.wallets WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, notFound(err, errors.ErrWalletNotFound, "failed to lock wallet")
	}
	return wallet, nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, entry *domain.Transaction) error {
	query := `
		INSERT INTO finance.transactions (` + transactionColumns + `)
		VALUES (
			:id, :reference, :type, :sender_wallet_id, :receiver_wallet_id, :amount, :currency_id,
			:converted_amount, :converted_currency_id, :description, :status, :transaction_date
		)
	`
	_, err := tx.NamedExecContext(ctx, query, entry)
	if violates(err, codeUniqueViolation, "reference") {
		return errors.ErrDuplicateReference
	}
	if violates(err, codeCheckViolation, "amount") {
		return errors.ErrInvalidAmount
	}
	return errors.Wrap(err, "failed to insert ledger entry")
}

func (r *WalletRepository) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx := &domain.Transaction{}
	err := r.db.GetContext(ctx, tx, `SELECT `+transactionColumns+` FROM finance.transactions WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, errors.Wrap(errors.ErrNotFound, "transaction"), "failed to find transaction by id")
	}
	return tx, nil
}

func (r *WalletRepository) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	tx := &domain.Transaction{}
	err := r.db.GetContext(ctx, tx, `SELECT `+transactionColumns+` FROM finance.transactions WHERE reference = $1`, reference)
	if err != nil {
		return nil, notFound(err, errors.Wrap(errors.ErrNotFound, "transaction"), "failed to find transaction by reference")
	}
	return tx, nil
}

func (r *WalletRepository) ListTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction
	query := `
		SELECT ` + transactionColumns + ` FROM finance.transactions
		WHERE sender_wallet_id = $1 OR receiver_wallet_id = $1
		ORDER BY transaction_date DESC, id
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &txs, query, walletID, limit, offset); err != nil {
		return nil, errors.Wrap(err, "failed to list wallet transactions")
	}
	return txs, nil
}
