package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript trims entries older than the window and records the event
// only when the window still has room, so rejected calls do not extend a
// client's lockout. Scores are unix milliseconds.
const slidingScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < max then
	redis.call("ZADD", KEYS[1], now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call("PEXPIRE", KEYS[1], window)
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local first = now
if oldest[2] then
	first = tonumber(oldest[2])
end
return {allowed, count, first}
`

var slidingLua = redis.NewScript(slidingScript)

// Sliding implements a sliding window rate limiter backed by Redis sorted sets.
type Sliding struct {
	Client *redis.Client
	Prefix string
}

// Allow records one event for key if fewer than max happened within window.
// reset is when the oldest event in the window expires.
func (l Sliding) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}

	now := time.Now().UnixMilli()
	windowMS := window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}
	res, err := slidingLua.Run(ctx, l.Client, []string{l.Prefix + key}, now, windowMS, max, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, 0, time.UnixMilli(now + windowMS), fmt.Errorf("sliding window: %w", err)
	}
	if len(res) != 3 {
		return false, 0, time.UnixMilli(now + windowMS), fmt.Errorf("sliding window: unexpected reply %v", res)
	}

	remaining = max - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return res[0] == 1, remaining, time.UnixMilli(res[2] + windowMS), nil
}
