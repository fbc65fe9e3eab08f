package store

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/enrollment/internal/registration/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftKeyTrimsCorrelationID(t *testing.T) {
	assert.Equal(t, "enrollment:draft:abc", draftKey("  abc "))
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client)
	ctx := context.Background()

	err := s.Put(ctx, domain.Draft{CorrelationID: "abc"}, time.Minute)
	require.Error(t, err)

	_, ok, err := s.Get(ctx, "abc")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestRedisStoreRejectsNonPositiveTTL(t *testing.T) {
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	err := s.Put(context.Background(), domain.Draft{CorrelationID: "abc"}, 0)
	assert.Error(t, err)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, domain.Draft{CorrelationID: "x", FirstName: "A"}, time.Minute))
	got, ok, err := s.Get(ctx, " x ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", got.FirstName)

	require.NoError(t, s.Delete(ctx, "x"))
	_, ok, err = s.Get(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)
}
