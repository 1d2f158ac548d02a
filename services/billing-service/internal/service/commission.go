package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/services/billing-service/internal/repository"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const commissionRatesCacheKey = "billing:commission_rates"

var hundred = decimal.NewFromInt(100)

// RateCache is the subset of pkg/cache used for commission rates.
type RateCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

type RateSource string

const (
	RateSourceAccount      RateSource = "account"
	RateSourceBusinessType RateSource = "business_type"
	RateSourceDefault      RateSource = "default"
)

// CommissionResolver picks the commission rate for a billing account:
// the account's own rate, then the system rate for its business type,
// then the configured default.
type CommissionResolver struct {
	accounts    repository.AccountRepository
	sysConfig   repository.SystemConfigRepository
	cache       RateCache
	cacheTTL    time.Duration
	defaultRate decimal.Decimal
	logger      logger.Logger
}

func NewCommissionResolver(
	accounts repository.AccountRepository,
	sysConfig repository.SystemConfigRepository,
	cache RateCache,
	cacheTTL time.Duration,
	defaultRate float64,
	log logger.Logger,
) *CommissionResolver {
	return &CommissionResolver{
		accounts:    accounts,
		sysConfig:   sysConfig,
		cache:       cache,
		cacheTTL:    cacheTTL,
		defaultRate: decimal.NewFromFloat(defaultRate),
		logger:      log,
	}
}

func (r *CommissionResolver) ResolveRate(ctx context.Context, ownerID primitive.ObjectID) (decimal.Decimal, RateSource, error) {
	if ownerID.IsZero() {
		return r.defaultRate, RateSourceDefault, nil
	}

	account, err := r.accounts.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			r.logger.Warn("Billing account not found, using default commission rate",
				logger.Field{Key: "user_id", Value: ownerID.Hex()},
			)
			return r.defaultRate, RateSourceDefault, nil
		}
		return decimal.Zero, "", err
	}

	if rate := account.PaymentSettings.CommissionRate; rate != nil {
		return decimal.NewFromFloat(*rate), RateSourceAccount, nil
	}

	if account.BusinessType != "" {
		rates, err := r.systemRates(ctx)
		if err != nil {
			return decimal.Zero, "", err
		}
		if rate, ok := rates[account.BusinessType]; ok {
			return decimal.NewFromFloat(rate), RateSourceBusinessType, nil
		}
	}

	return r.defaultRate, RateSourceDefault, nil
}

func (r *CommissionResolver) systemRates(ctx context.Context) (map[string]float64, error) {
	if r.cache != nil {
		var cached map[string]float64
		if err := r.cache.GetJSON(ctx, commissionRatesCacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	rates, err := r.sysConfig.GetCommissionRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load commission rates: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, commissionRatesCacheKey, rates, r.cacheTTL); err != nil {
			r.logger.Warn("Failed to cache commission rates", logger.Err(err))
		}
	}

	return rates, nil
}

// ComputeCommission returns amount*rate/100 rounded to cents.
func ComputeCommission(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred).Round(2)
}
