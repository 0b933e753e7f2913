package config

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
)

// ToDomainRiskLimits parses the string-valued decimal fields and builds
// the domain.RiskLimits snapshot the risk gate enforces against. Empty
// strings map to a nil pointer (check disabled).
func (c RiskConfig) ToDomainRiskLimits() (domain.RiskLimits, error) {
	dailyLossLimit, err := optionalDecimal(c.DailyLossLimit)
	if err != nil {
		return domain.RiskLimits{}, fmt.Errorf("config: daily_loss_limit: %w", err)
	}
	maxLossPerPosition, err := optionalDecimal(c.MaxLossPerPosition)
	if err != nil {
		return domain.RiskLimits{}, fmt.Errorf("config: max_loss_per_position: %w", err)
	}
	maxProfitPerPosition, err := optionalDecimal(c.MaxProfitPerPosition)
	if err != nil {
		return domain.RiskLimits{}, fmt.Errorf("config: max_profit_per_position: %w", err)
	}
	maxPositionValue, err := optionalDecimal(c.MaxPositionValue)
	if err != nil {
		return domain.RiskLimits{}, fmt.Errorf("config: max_position_value: %w", err)
	}
	maxLossPerStrategy, err := optionalDecimal(c.MaxLossPerStrategy)
	if err != nil {
		return domain.RiskLimits{}, fmt.Errorf("config: max_loss_per_strategy: %w", err)
	}

	return domain.RiskLimits{
		DailyLossLimit:         dailyLossLimit,
		DailyLossWarningThresh: c.DailyLossWarningThresh,
		MaxMarginUtilization:   c.MaxMarginUtilization,
		MaxOpenPositions:       c.MaxOpenPositions,
		MaxOpenOrders:          c.MaxOpenOrders,
		MaxActiveStrategies:    c.MaxActiveStrategies,
		MaxLossPerPosition:     maxLossPerPosition,
		MaxProfitPerPosition:   maxProfitPerPosition,
		MaxLotsPerPosition:     c.MaxLotsPerPosition,
		MaxPositionValue:       maxPositionValue,
		MaxLossPerStrategy:     maxLossPerStrategy,
		MaxLegsPerStrategy:     c.MaxLegsPerStrategy,
	}, nil
}

// ToDomainUnderlyingLimits parses the configured per-underlying caps.
func ToDomainUnderlyingLimits(cfgs []UnderlyingLimitConfig) []domain.UnderlyingRiskLimits {
	out := make([]domain.UnderlyingRiskLimits, len(cfgs))
	for i, c := range cfgs {
		out[i] = domain.UnderlyingRiskLimits{Underlying: c.Underlying, MaxLots: c.MaxLots}
	}
	return out
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
