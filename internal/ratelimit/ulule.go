package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Ulule adapts a ulule/limiter store (fixed window counters) to Limiter.
type Ulule struct {
	Store limiter.Store
}

// NewUlule builds a Redis-backed ulule limiter.
func NewUlule(rdb *redis.Client, prefix string) (Ulule, error) {
	if prefix == "" {
		prefix = limiter.DefaultPrefix
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return Ulule{}, err
	}
	return Ulule{Store: store}, nil
}

// Allow increments the counter for key within the current window.
func (u Ulule) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if u.Store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lim := limiter.New(u.Store, limiter.Rate{Period: window, Limit: int64(max)})
	res, err := lim.Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}
