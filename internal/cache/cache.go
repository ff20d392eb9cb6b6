package cache

import (
	"context"
	"time"

	"pointsale/backend/internal/domain"
)

// CatalogCache fronts the product listing, which is read on every
// cashier screen refresh. Implementations must treat a miss as
// (nil, false, nil) so callers can fall through to the repository.
type CatalogCache interface {
	Get(ctx context.Context, key string) ([]domain.Product, bool, error)
	Set(ctx context.Context, key string, products []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
