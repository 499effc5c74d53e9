/**
 * @description
 * This file implements the Redis-backed login rate limiter. A fixed window
 * counter per email is maintained atomically with a small Lua script, so the
 * increment and the expiry are applied in one round trip even under concurrent
 * login attempts.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client and Lua script execution.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the attempt counter and stamps the window TTL
// on first use. Returns the count after increment.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisLoginRateLimiter throttles login attempts per email using a fixed
// window counter in Redis.
type RedisLoginRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLoginRateLimiter creates a limiter allowing limit attempts per
// window for each email.
func NewRedisLoginRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisLoginRateLimiter {
	return &RedisLoginRateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Allow records one attempt for the email and reports whether it is within
// the window's budget.
func (l *RedisLoginRateLimiter) Allow(ctx context.Context, email string) (bool, error) {
	key := fmt.Sprintf("login_attempts:%s", strings.ToLower(strings.TrimSpace(email)))
	count, err := fixedWindowScript.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return count <= int64(l.limit), nil
}
