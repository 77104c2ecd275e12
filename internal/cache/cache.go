package cache

import (
	"context"
	"time"

	"tokomitra/backend/internal/domain"
)

// ScheduleCache caches the active commission tier schedule, which is read on
// every wallet projection but mutated rarely.
type ScheduleCache interface {
	Get(ctx context.Context, key string) ([]domain.CommissionTier, bool, error)
	Set(ctx context.Context, key string, tiers []domain.CommissionTier, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopScheduleCache struct{}

func (NoopScheduleCache) Get(_ context.Context, _ string) ([]domain.CommissionTier, bool, error) {
	return nil, false, nil
}

func (NoopScheduleCache) Set(_ context.Context, _ string, _ []domain.CommissionTier, _ time.Duration) error {
	return nil
}

func (NoopScheduleCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
