package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	renewScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
else
  return 0
end`
)

// Locker is a Redis lock keyed per draft. While the callback runs the lease
// is renewed every ttl/2, so a slow backend call does not let a second
// editor in.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// WithLock runs fn while holding key. The lock is released when fn returns,
// whatever the outcome. If the lock cannot be taken before ctx is done,
// ctx.Err() is returned and fn never runs.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			stop := l.keepAlive(key, token, ttl)
			defer func() {
				stop()
				l.release(context.Background(), key, token)
			}()
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) keepAlive(key, token string, ttl time.Duration) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		interval := ttl / 2
		if interval < time.Millisecond {
			interval = time.Millisecond
		}
		ms := max(ttl.Milliseconds(), 1)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				held, err := l.R.Eval(context.Background(), renewScript, []string{key}, token, ms).Int()
				if err != nil || held == 0 {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// release deletes key only while it still holds token. A failed release is
// left to expire with the lease.
func (l Locker) release(ctx context.Context, key, token string) {
	_ = l.R.Eval(ctx, releaseScript, []string{key}, token).Err()
}
