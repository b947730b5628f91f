package service

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/prospectiq/credit-server-go/internal/config"
	"github.com/prospectiq/credit-server-go/internal/redis"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// RateLimiter admits or rejects a call for one (account, service) pair
// against that service's sliding window. State loss is acceptable: the
// limiter is an abuse guard, not a billing guarantee, so implementations fail
// open rather than closed.
type RateLimiter interface {
	Admit(ctx context.Context, accountID, service string) Decision
}

func ruleFor(service string) config.RateRule {
	if rule, ok := config.ServiceRateRules[service]; ok {
		return rule
	}
	return config.DefaultRateRule
}

// rateLimitScript removes timestamps outside the window, then either records
// the call or reports when the oldest retained call leaves the window.
var rateLimitScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

local remaining = limit - count - 1
local resetAt = now + window

return {1, remaining, resetAt}
`)

// RedisRateLimiter shares window state across instances via a Redis sorted
// set per (account, service).
type RedisRateLimiter struct {
	client *goredis.Client
}

func NewRedisRateLimiter(client *goredis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (rl *RedisRateLimiter) Admit(ctx context.Context, accountID, service string) Decision {
	rule := ruleFor(service)
	now := time.Now()
	key := redis.RateLimitKey(accountID, service)

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{key},
		now.Unix(),
		int64(rule.Window.Seconds()),
		rule.MaxRequests,
	).Int64Slice()
	if err != nil || len(result) != 3 {
		log.Warn().
			Err(err).
			Str("accountId", accountID).
			Str("service", service).
			Msg("rate limit check failed, allowing request")
		return Decision{
			Allowed:   true,
			Limit:     rule.MaxRequests,
			Remaining: rule.MaxRequests - 1,
			ResetAt:   now.Add(rule.Window),
		}
	}

	resetAt := time.Unix(result[2], 0)
	decision := Decision{
		Allowed:   result[0] == 1,
		Limit:     rule.MaxRequests,
		Remaining: int(result[1]),
		ResetAt:   resetAt,
	}
	if !decision.Allowed {
		decision.RetryAfter = time.Until(resetAt)
		if decision.RetryAfter < time.Second {
			decision.RetryAfter = time.Second
		}
	}
	return decision
}

const (
	memoryMaxEntries      = 10000
	memoryCleanupInterval = time.Minute
	memoryEntryTTL        = 5 * time.Minute
)

type memoryWindow struct {
	timestamps []time.Time
	lastAccess time.Time
}

// MemoryRateLimiter keeps window state in process. Used when no Redis is
// configured and in tests; enforcement is per-instance only.
type MemoryRateLimiter struct {
	mu          sync.Mutex
	store       map[string]*memoryWindow
	lastCleanup time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		store:       make(map[string]*memoryWindow),
		lastCleanup: time.Now(),
	}
}

func (rl *MemoryRateLimiter) cleanup(now time.Time) {
	if now.Sub(rl.lastCleanup) < memoryCleanupInterval {
		return
	}
	rl.lastCleanup = now

	for key, entry := range rl.store {
		if now.Sub(entry.lastAccess) > memoryEntryTTL {
			delete(rl.store, key)
		}
	}

	if len(rl.store) > memoryMaxEntries {
		drop := len(rl.store) / 5
		for key := range rl.store {
			delete(rl.store, key)
			drop--
			if drop <= 0 {
				break
			}
		}
	}
}

func (rl *MemoryRateLimiter) Admit(_ context.Context, accountID, service string) Decision {
	rule := ruleFor(service)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.cleanup(now)

	key := accountID + ":" + service
	windowStart := now.Add(-rule.Window)

	entry, exists := rl.store[key]
	if !exists {
		entry = &memoryWindow{}
		rl.store[key] = entry
	}
	entry.lastAccess = now

	filtered := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			filtered = append(filtered, ts)
		}
	}
	entry.timestamps = filtered

	if len(entry.timestamps) >= rule.MaxRequests {
		resetAt := entry.timestamps[0].Add(rule.Window)
		retryAfter := time.Until(resetAt)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Decision{
			Allowed:    false,
			Limit:      rule.MaxRequests,
			Remaining:  0,
			RetryAfter: retryAfter,
			ResetAt:    resetAt,
		}
	}

	entry.timestamps = append(entry.timestamps, now)
	return Decision{
		Allowed:   true,
		Limit:     rule.MaxRequests,
		Remaining: rule.MaxRequests - len(entry.timestamps),
		ResetAt:   now.Add(rule.Window),
	}
}
