package health

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Pinger is satisfied by the invoicing backend client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probes checks the dependencies of the API process.
type Probes struct {
	Redis   *redis.Client
	Backend Pinger
}

// PingRedis pings Redis within timeout.
func (p Probes) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// PingBackend checks that the invoicing backend answers within timeout. A
// process without a backend client (async API nodes) reports ok.
func (p Probes) PingBackend(ctx context.Context, timeout time.Duration) error {
	if p.Backend == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Backend.Ping(ctx)
}
