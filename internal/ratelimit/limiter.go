package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/enrollment/internal/config"
	"go.uber.org/zap"
)

const keyEnrollment = "enrollment:ratelimit:%s:%s"

// EnrollmentLimiter throttles the public enrollment endpoints per client and
// endpoint. It uses the shared Redis bucket when Redis is configured and a
// per-process limiter otherwise.
type EnrollmentLimiter struct {
	enabled bool
	rate    float64
	burst   int

	bucket *TokenBucket
	local  *LocalLimiter
	log    *zap.Logger
}

func NewEnrollmentLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) (*EnrollmentLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if limitCfg.Rate <= 0 || limitCfg.Burst <= 0 {
		return nil, errors.New("enrollment rate limit must be positive")
	}

	l := &EnrollmentLimiter{
		enabled: true,
		rate:    limitCfg.Rate,
		burst:   limitCfg.Burst,
		local:   NewLocalLimiter(limitCfg.Rate, limitCfg.Burst),
		log:     log.Named("ratelimit"),
	}
	if client != nil {
		l.bucket = NewTokenBucket(client)
	}
	return l, nil
}

func (l *EnrollmentLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow falls back to the local limiter when Redis errors so an outage does
// not close the enrollment endpoints.
func (l *EnrollmentLimiter) Allow(ctx context.Context, endpoint, client string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyEnrollment, strings.TrimSpace(endpoint), strings.TrimSpace(client))
	if l.bucket != nil {
		res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
		if err == nil {
			return res, nil
		}
		l.log.Warn("ratelimit.redis_failed", zap.String("endpoint", endpoint), zap.Error(err))
	}
	return l.local.Allow(key), nil
}
