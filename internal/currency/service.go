// ==============================================================================
// CURRENCY SERVICE - internal/currency/service.go
// ==============================================================================
package currency

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"reseller/internal/domain"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
)

type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Currency, error)
	FindByCode(ctx context.Context, code string) (*domain.Currency, error)
	List(ctx context.Context) ([]*domain.Currency, error)
}

// Cache is satisfied by cache.RedisCache.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type Service struct {
	repo   Repository
	cache  Cache
	ttl    time.Duration
	logger logger.Logger
}

// NewService builds the currency store. cache may be nil.
func NewService(repo Repository, cache Cache, ttl time.Duration, log logger.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		ttl:    ttl,
		logger: log,
	}
}

type snapshotKey struct{}

type snapshot struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*domain.Currency
}

// WithSnapshot pins every currency read through ctx to the first value seen,
// so one request never observes two different rates for the same currency.
func WithSnapshot(ctx context.Context) context.Context {
	if _, ok := ctx.Value(snapshotKey{}).(*snapshot); ok {
		return ctx
	}
	return context.WithValue(ctx, snapshotKey{}, &snapshot{byID: make(map[uuid.UUID]*domain.Currency)})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Currency, error) {
	snap, _ := ctx.Value(snapshotKey{}).(*snapshot)
	if snap != nil {
		snap.mu.Lock()
		c, ok := snap.byID[id]
		snap.mu.Unlock()
		if ok {
			return c, nil
		}
	}

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if snap != nil {
		snap.mu.Lock()
		if pinned, ok := snap.byID[id]; ok {
			c = pinned
		} else {
			snap.byID[id] = c
		}
		snap.mu.Unlock()
	}
	return c, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*domain.Currency, error) {
	key := "currency:" + id.String()
	if s.cache != nil {
		var cached domain.Currency
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, c, s.ttl); err != nil {
			s.logger.Warn("Failed to cache currency", map[string]interface{}{
				"currency_id": id,
				"error":       err,
			})
		}
	}
	return c, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*domain.Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, errors.ErrInvalidCurrency
	}
	return s.repo.FindByCode(ctx, code)
}

func (s *Service) List(ctx context.Context) ([]*domain.Currency, error) {
	return s.repo.List(ctx)
}

// Convert converts amount from one currency into another through the base
// unit and rounds half-up to the target currency's decimals.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, fromID, toID uuid.UUID) (decimal.Decimal, error) {
	to, err := s.Get(ctx, toID)
	if err != nil {
		return decimal.Zero, err
	}
	if fromID == toID {
		return Round(amount, to), nil
	}

	from, err := s.Get(ctx, fromID)
	if err != nil {
		return decimal.Zero, err
	}
	if !from.ExchangeRate.IsPositive() || !to.ExchangeRate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive exchange rate", errors.ErrInvalidCurrency)
	}

	base := amount.DivRound(from.ExchangeRate, 16)
	return Round(base.Mul(to.ExchangeRate), to), nil
}

// Round rounds half-up to the currency's minor unit.
func Round(amount decimal.Decimal, c *domain.Currency) decimal.Decimal {
	return amount.Round(c.Decimals)
}
