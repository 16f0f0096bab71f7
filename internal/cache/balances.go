package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"escrow-settlement-go/internal/metrics"
	"escrow-settlement-go/internal/models"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "escrow:balance:"

// BalanceCache holds recently read freelancer balances. It is never consulted
// by settlement logic; entries are dropped after every balance mutation and
// expire after ttl regardless.
type BalanceCache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	prefix  string
	metrics *metrics.Metrics
}

func NewBalanceCache(client redis.UniversalClient, ttl time.Duration, m *metrics.Metrics) *BalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BalanceCache{client: client, ttl: ttl, prefix: defaultPrefix, metrics: m}
}

// Connect opens a client for cfg and verifies it answers.
func Connect(ctx context.Context, cfg models.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to reach redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (c *BalanceCache) key(freelancerId string) string {
	return c.prefix + freelancerId
}

// Get returns the cached balance and whether it was present.
func (c *BalanceCache) Get(ctx context.Context, freelancerId string) (models.FreelancerBalance, bool, error) {
	raw, err := c.client.Get(ctx, c.key(freelancerId)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.IncCacheLookup("miss")
		return models.FreelancerBalance{}, false, nil
	}
	if err != nil {
		c.metrics.IncCacheLookup("error")
		return models.FreelancerBalance{}, false, fmt.Errorf("failed to read cached balance: %w", err)
	}

	var balance models.FreelancerBalance
	if err := json.Unmarshal(raw, &balance); err != nil {
		c.metrics.IncCacheLookup("error")
		return models.FreelancerBalance{}, false, fmt.Errorf("failed to decode cached balance: %w", err)
	}
	c.metrics.IncCacheLookup("hit")
	return balance, true, nil
}

func (c *BalanceCache) Set(ctx context.Context, balance models.FreelancerBalance) error {
	raw, err := json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("failed to encode balance: %w", err)
	}
	if err := c.client.Set(ctx, c.key(balance.FreelancerId), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache balance: %w", err)
	}
	return nil
}

func (c *BalanceCache) Invalidate(ctx context.Context, freelancerId string) error {
	if err := c.client.Del(ctx, c.key(freelancerId)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached balance: %w", err)
	}
	return nil
}
