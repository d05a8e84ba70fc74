package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateGate throttles extraction calls across workers. Wait blocks until
// a token is available or ctx is done.
type RateGate interface {
	Wait(ctx context.Context) error
}

// LocalGate is an in-process token bucket.
type LocalGate struct {
	limiter *rate.Limiter
}

// NewLocalGate allows rpm calls per minute with a burst of one; vision
// calls are expensive enough that bursts buy nothing.
func NewLocalGate(rpm int) *LocalGate {
	if rpm <= 0 {
		rpm = 30
	}
	return &LocalGate{limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)}
}

// Wait blocks for the next token.
func (g *LocalGate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// redisGateScript refills and consumes a token bucket atomically.
// KEYS[1] = bucket key; ARGV[1] = tokens/sec; ARGV[2] = capacity;
// ARGV[3] = now (unix seconds, fractional).
var redisGateScript = redis.NewScript(`
local key = KEYS[1]
local refill = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if not tokens or not last then
    tokens = capacity
    last = now
end

local elapsed = now - last
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * refill)
    last = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last)
redis.call("EXPIRE", key, 120)
return allowed
`)

// RedisGate shares one token bucket across processes. Replicas of the
// server would otherwise each spend the full per-key quota.
type RedisGate struct {
	client  *redis.Client
	key     string
	refill  float64
	poll    time.Duration
	localCB *LocalGate
}

// NewRedisGate creates a gate keyed by name (typically the API key's
// purpose, e.g. "extraction").
func NewRedisGate(client *redis.Client, name string, rpm int) *RedisGate {
	if rpm <= 0 {
		rpm = 30
	}
	return &RedisGate{
		client: client,
		key:    "ratelimit:" + name,
		refill: float64(rpm) / 60.0,
		poll:   500 * time.Millisecond,
		// Fall back to a local bucket if redis is down; degraded but
		// still bounded per process.
		localCB: NewLocalGate(rpm),
	}
}

// Wait polls the shared bucket until a token is granted.
func (g *RedisGate) Wait(ctx context.Context) error {
	for {
		now := float64(time.Now().UnixMicro()) / 1e6
		allowed, err := g.run(ctx, now)
		if err != nil {
			return g.localCB.Wait(ctx)
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(g.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (g *RedisGate) run(ctx context.Context, now float64) (bool, error) {
	res, err := redisGateScript.Run(ctx, g.client, []string{g.key}, g.refill, 1, now).Int()
	if err != nil {
		return false, fmt.Errorf("vision: redis rate gate: %w", err)
	}
	return res == 1, nil
}
