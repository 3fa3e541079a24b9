package cache

import (
	"context"
	"time"

	"lumapos/backend/internal/domain"
)

// CatalogCache holds short-lived snapshots of the bulk catalog listings
// the terminals poll on every sync cycle, so a fleet of terminals does
// not hammer the database with identical full-table reads.
type CatalogCache interface {
	GetProducts(ctx context.Context) ([]domain.Product, bool, error)
	SetProducts(ctx context.Context, products []domain.Product, ttl time.Duration) error
	GetCustomers(ctx context.Context) ([]domain.Customer, bool, error)
	SetCustomers(ctx context.Context, customers []domain.Customer, ttl time.Duration) error
	// Invalidate drops both snapshots after a catalog mutation.
	Invalidate(ctx context.Context) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) GetProducts(_ context.Context) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetProducts(_ context.Context, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) GetCustomers(_ context.Context) ([]domain.Customer, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetCustomers(_ context.Context, _ []domain.Customer, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context) error {
	return nil
}
