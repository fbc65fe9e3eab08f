package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalLimiterEnforcesBurstPerKey(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a").Allowed)
	assert.True(t, l.Allow("a").Allowed)
	denied := l.Allow("a")
	assert.False(t, denied.Allowed)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))

	assert.True(t, l.Allow("b").Allowed, "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a").Allowed)
}

func TestLocalLimiterSweepsIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(1, 1)
	l.now = func() time.Time { return now }

	l.Allow("stale")
	now = now.Add(localIdleTTL + time.Minute)
	l.Allow("fresh")
	assert.NotContains(t, l.limiters, "stale")
	assert.Contains(t, l.limiters, "fresh")
}

func TestEnrollmentLimiterDisabled(t *testing.T) {
	l, err := NewEnrollmentLimiter(config.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, l)
	res, err := l.Allow(context.Background(), "/v1/registrations", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestEnrollmentLimiterRejectsInvalidConfig(t *testing.T) {
	_, err := NewEnrollmentLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true}}, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestEnrollmentLimiterFallsBackWhenRedisFails(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, Rate: 1, Burst: 1}}
	l, err := NewEnrollmentLimiter(cfg, client, zap.NewNop())
	require.NoError(t, err)

	first, err := l.Allow(context.Background(), "/v1/registrations", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	second, err := l.Allow(context.Background(), "/v1/registrations", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, second.Allowed)
}

func TestTokenBucketHelpers(t *testing.T) {
	assert.Equal(t, 4*time.Second, defaultBucketTTL(5, 10))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 10))
	assert.Equal(t, 2.5, castToFloat("2.5"))
	assert.Equal(t, int64(1), castToInt(int64(1)))
	assert.Equal(t, 500*time.Millisecond, retryAfter(false, 0.5, 1))
	assert.Equal(t, time.Duration(0), retryAfter(true, 0, 1))

	var nilBucket *TokenBucket
	_, err := nilBucket.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err)
}
