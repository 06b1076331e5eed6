// Package redisstore keeps admission buckets in Redis so that several
// gateway processes enforce one shared limit per client.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kmelchor/floodgate/internal/admission"
)

// admitScript runs the whole refill/consume step atomically server-side.
// Tokens and the refill timestamp live in one hash per client key; PEXPIRE
// makes idle clients age out without a janitor.
var admitScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = burst
  ts = now_ms
end

local elapsed = (now_ms - ts) / 1000
if elapsed < 0 then
  elapsed = 0
end
local max_elapsed = burst / rate
if elapsed > max_elapsed then
  elapsed = max_elapsed
end
tokens = tokens + elapsed * rate
if tokens > burst then
  tokens = burst
end

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait_ms = math.ceil((1 - tokens) / rate * 1000)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now_ms)
redis.call('PEXPIRE', KEYS[1], ttl_ms)
return {allowed, tostring(tokens), wait_ms}
`)

type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithIdleTTL sets how long an idle bucket survives in Redis.
func WithIdleTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// New wraps an existing client; its lifetime stays with the caller.
func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{
		rdb:    rdb,
		prefix: "floodgate:bucket",
		ttl:    15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return nil }

func (s *Store) Admit(ctx context.Context, key string, p admission.Policy, now time.Time) (admission.Decision, error) {
	if p.Rate <= 0 || p.Burst <= 0 {
		return admission.Decision{Verdict: admission.Allow, Limit: p.Rate, Remaining: p.Burst}, nil
	}

	res, err := admitScript.Run(ctx, s.rdb,
		[]string{s.prefix + ":" + key},
		p.Rate,
		p.Burst,
		now.UnixMilli(),
		s.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return admission.Decision{}, fmt.Errorf("redis admit: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return admission.Decision{}, fmt.Errorf("redis admit: unexpected reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	tokensStr, _ := vals[1].(string)
	waitMS, _ := vals[2].(int64)

	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return admission.Decision{}, fmt.Errorf("redis admit: bad token count %q", tokensStr)
	}

	dec := admission.Decision{
		Limit:     p.Rate,
		Remaining: int(tokens),
	}

	capacity := float64(p.Burst)
	if tokens >= capacity {
		dec.ResetUnixSec = now.Unix()
	} else {
		sec := (capacity - tokens) / p.Rate
		dec.ResetUnixSec = now.Add(time.Duration(sec * float64(time.Second))).Unix()
	}

	if allowed == 1 {
		dec.Verdict = admission.Allow
		return dec, nil
	}

	dec.Wait = time.Duration(waitMS) * time.Millisecond
	if p.DelayMode && p.MaxDelay > 0 && dec.Wait <= p.MaxDelay {
		dec.Verdict = admission.Delay
	} else {
		dec.Verdict = admission.Reject
	}
	return dec, nil
}
