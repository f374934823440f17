package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "energyledger:ratelimit:"

// refillScript keeps one bucket per key as a hash of {tokens, ts}. It uses
// the Redis clock so replicas with skewed clocks share one view, and returns
// {allowed, whole tokens left, ms until the next token}.
var refillScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now

local elapsed = math.max(0, now - last)
tokens = math.min(burst, tokens + elapsed * rate / 1000)

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens), wait}
`)

// RedisLimiter runs the token bucket for one policy inside Redis so every
// replica draws from the same buckets.
type RedisLimiter struct {
	client redis.Scripter
	policy Policy
	prefix string
	ttl    time.Duration
}

func NewRedisLimiter(client redis.Scripter, policy Policy) (*RedisLimiter, error) {
	if client == nil {
		return nil, ErrNotConfigured
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &RedisLimiter{
		client: client,
		policy: policy,
		prefix: keyPrefix + policy.Name + ":",
		ttl:    idleTTL(policy),
	}, nil
}

func (r *RedisLimiter) Policy() Policy {
	return r.policy
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}

	reply, err := refillScript.Run(ctx, r.client, []string{r.prefix + key},
		r.policy.Rate(), r.policy.Limit, r.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(reply) != 3 {
		return Result{}, fmt.Errorf("rate limit script: unexpected reply %v", reply)
	}

	return Result{
		Allowed:    reply[0] == 1,
		Limit:      r.policy.Limit,
		Remaining:  int(max(reply[1], 0)),
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}

// idleTTL expires a bucket after twice its full refill time, never under a
// second. An expired bucket is indistinguishable from a full one.
func idleTTL(p Policy) time.Duration {
	rate := p.Rate()
	if rate <= 0 {
		return time.Second
	}
	seconds := math.Ceil(2 * float64(p.Limit) / rate)
	return time.Duration(max(seconds, 1)) * time.Second
}
