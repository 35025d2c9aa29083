package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The first hit in a window sets the expiry; later hits only count.
var moneyMovementWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local remaining = redis.call("PTTL", KEYS[1])
if remaining < 0 then
  remaining = tonumber(ARGV[1])
end
return {hits, remaining}
`)

const minRateWindow = time.Second

// RedisRateLimiter counts money-movement requests per caller in fixed windows
// shared by every service instance.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: normalizePrefix(prefix) + ":rate_limit"}
}

// normalizePrefix trims a trailing separator so keys never contain "::".
func normalizePrefix(prefix string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		return "banking"
	}
	return trimmed
}

// ConsumeRateLimit records one request by subject in scope. It returns the number
// of requests seen in the current window and the whole seconds until the window
// resets. A limiter without a client, or a call without a scope or subject, is a no-op.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if r == nil || r.client == nil || limit <= 0 || scope == "" || subject == "" {
		return 0, 0, nil
	}
	if window < minRateWindow {
		window = minRateWindow
	}

	key := r.prefix + ":" + scope + ":" + subject
	reply, err := moneyMovementWindowScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit script: %w", err)
	}
	hits, remaining, err := parseWindowReply(reply, window)
	if err != nil {
		return 0, 0, err
	}
	return hits, retryAfterSeconds(remaining), nil
}

func parseWindowReply(reply interface{}, window time.Duration) (int, time.Duration, error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit reply %T", reply)
	}
	hits, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rate limit count %T", values[0])
	}
	remainingMs, ok := values[1].(int64)
	if !ok || remainingMs < 0 {
		return int(hits), window, nil
	}
	return int(hits), time.Duration(remainingMs) * time.Millisecond, nil
}

// retryAfterSeconds rounds up and never returns less than one second.
func retryAfterSeconds(remaining time.Duration) int {
	seconds := int((remaining + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
