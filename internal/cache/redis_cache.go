package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"lumapos/backend/internal/domain"
)

const (
	keyProducts  = "catalog:products"
	keyCustomers = "catalog:customers"
)

type RedisCatalogCache struct {
	client *redis.Client
}

func NewRedisCatalogCache(addr string, password string, db int) *RedisCatalogCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCatalogCache{client: client}
}

func (c *RedisCatalogCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCatalogCache) Close() error {
	return c.client.Close()
}

func (c *RedisCatalogCache) GetProducts(ctx context.Context) ([]domain.Product, bool, error) {
	var products []domain.Product
	ok, err := c.get(ctx, keyProducts, &products)
	return products, ok, err
}

func (c *RedisCatalogCache) SetProducts(ctx context.Context, products []domain.Product, ttl time.Duration) error {
	return c.set(ctx, keyProducts, products, ttl)
}

func (c *RedisCatalogCache) GetCustomers(ctx context.Context) ([]domain.Customer, bool, error) {
	var customers []domain.Customer
	ok, err := c.get(ctx, keyCustomers, &customers)
	return customers, ok, err
}

func (c *RedisCatalogCache) SetCustomers(ctx context.Context, customers []domain.Customer, ttl time.Duration) error {
	return c.set(ctx, keyCustomers, customers, ttl)
}

func (c *RedisCatalogCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, keyProducts, keyCustomers).Err()
}

func (c *RedisCatalogCache) get(ctx context.Context, key string, out any) (bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCatalogCache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
