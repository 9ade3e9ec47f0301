package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"reseller/internal/domain"
	"reseller/pkg/errors"
)

type CurrencyRepository struct {
	s *Store
}

// Add inserts or replaces a currency.
func (r *CurrencyRepository) Add(c *domain.Currency) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.currencies[c.ID] = *c
}

func (r *CurrencyRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.Currency, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.currencies[id]
	if !ok {
		return nil, errors.ErrCurrencyNotFound
	}
	return &c, nil
}

func (r *CurrencyRepository) FindByCode(_ context.Context, code string) (*domain.Currency, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.currencies {
		if strings.EqualFold(c.Code, code) {
			c := c
			return &c, nil
		}
	}
	return nil, errors.ErrCurrencyNotFound
}

func (r *CurrencyRepository) List(_ context.Context) ([]*domain.Currency, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*domain.Currency, 0, len(r.s.currencies))
	for _, c := range r.s.currencies {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
