package cache

import (
	"testing"
	"time"

	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiresByClock(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCache[string, int](clk)

	c.Set("a", 1, time.Hour)
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	clk.Advance(59 * time.Minute)
	_, ok = c.Get("a")
	assert.True(t, ok)

	clk.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestTTLCacheSetRefreshesExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCache[string, string](clk)

	c.Set("k", "v1", time.Hour)
	clk.Advance(50 * time.Minute)
	c.Set("k", "v2", time.Hour)
	clk.Advance(50 * time.Minute)

	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestTTLCacheIgnoresNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[string, int](nil)
	c.Set("x", 1, 0)
	_, ok := c.Get("x")
	assert.False(t, ok)

	c.Set("y", 2, time.Minute)
	c.Delete("y")
	_, ok = c.Get("y")
	assert.False(t, ok)
}
