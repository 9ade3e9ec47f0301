package postgres

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"reseller/internal/domain"
	"reseller/pkg/errors"
)

const currencyColumns = `id, code, name, exchange_rate, decimals`

type CurrencyRepository struct {
	db *sqlx.DB
}

func NewCurrencyRepository(db *sqlx.DB) *CurrencyRepository {
	return &CurrencyRepository{db: db}
}

func (r *CurrencyRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Currency, error) {
	c := &domain.Currency{}
	err := r.db.GetContext(ctx, c, `SELECT `+currencyColumns+` FROM finance.currencies WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, errors.ErrCurrencyNotFound, "failed to find currency by id")
	}
	return c, nil
}

func (r *CurrencyRepository) FindByCode(ctx context.Context, code string) (*domain.Currency, error) {
	c := &domain.Currency{}
	err := r.db.GetContext(ctx, c, `SELECT `+currencyColumns+` FROM finance.currencies WHERE code = $1`, strings.ToUpper(code))
	if err != nil {
		return nil, notFound(err, errors.ErrCurrencyNotFound, "failed to find currency by code")
	}
	return c, nil
}

func (r *CurrencyRepository) List(ctx context.Context) ([]*domain.Currency, error) {
	var currencies []*domain.Currency
	err := r.db.SelectContext(ctx, &currencies, `SELECT `+currencyColumns+` FROM finance.currencies ORDER BY code`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list currencies")
	}
	return currencies, nil
}
