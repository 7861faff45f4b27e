package cache

import (
	"context"
	"time"

	"vendapos/backend/internal/domain"
)

type MenuCache interface {
	Get(ctx context.Context, key string) ([]domain.MenuItem, bool, error)
	Set(ctx context.Context, key string, value []domain.MenuItem, ttl time.Duration) error
}

type NoopMenuCache struct{}

func (NoopMenuCache) Get(_ context.Context, _ string) ([]domain.MenuItem, bool, error) {
	return nil, false, nil
}

func (NoopMenuCache) Set(_ context.Context, _ string, _ []domain.MenuItem, _ time.Duration) error {
	return nil
}
