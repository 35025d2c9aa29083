package app

import (
	"context"
	"testing"
	"time"
)

func TestParseWindowReply(t *testing.T) {
	hits, remaining, err := parseWindowReply([]interface{}{int64(3), int64(1500)}, time.Minute)
	if err != nil {
		t.Fatalf("parseWindowReply: %v", err)
	}
	if hits != 3 || remaining != 1500*time.Millisecond {
		t.Fatalf("unexpected hits=%d remaining=%s", hits, remaining)
	}

	hits, remaining, err = parseWindowReply([]interface{}{int64(1), "bad"}, time.Minute)
	if err != nil || hits != 1 || remaining != time.Minute {
		t.Fatalf("expected fallback to the full window, got hits=%d remaining=%s err=%v", hits, remaining, err)
	}

	for _, reply := range []interface{}{"OK", []interface{}{int64(1)}, []interface{}{"1", int64(10)}} {
		if _, _, err := parseWindowReply(reply, time.Minute); err == nil {
			t.Fatalf("expected error for reply %#v", reply)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		want      int
	}{
		{0, 1},
		{200 * time.Millisecond, 1},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
		{59500 * time.Millisecond, 60},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.remaining); got != tt.want {
			t.Fatalf("retryAfterSeconds(%s) = %d, want %d", tt.remaining, got, tt.want)
		}
	}
}

func TestRedisRateLimiter_NoClientIsNoop(t *testing.T) {
	var limiter *RedisRateLimiter
	count, retry, err := limiter.ConsumeRateLimit(context.Background(), "transfers", "user_primary", 5, time.Minute)
	if err != nil || count != 0 || retry != 0 {
		t.Fatalf("expected no-op, got count=%d retry=%d err=%v", count, retry, err)
	}

	limiter = NewRedisRateLimiter(nil, "banking:")
	if limiter.prefix != "banking:rate_limit" {
		t.Fatalf("unexpected prefix %q", limiter.prefix)
	}
	if count, _, _ := limiter.ConsumeRateLimit(context.Background(), "transfers", "user_primary", 5, time.Minute); count != 0 {
		t.Fatalf("expected no-op without client, got %d", count)
	}
}
