package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/enrollment/internal/registration/domain"
)

const keyDraft = "enrollment:draft:%s"

type redisStore struct {
	client redis.Cmdable
}

// NewRedisStore shares drafts across API replicas. Expiry is enforced by redis.
func NewRedisStore(client redis.Cmdable) domain.Store {
	return &redisStore{client: client}
}

func (s *redisStore) Put(ctx context.Context, draft domain.Draft, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("draft ttl must be positive")
	}
	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	return s.client.Set(ctx, draftKey(draft.CorrelationID), payload, ttl).Err()
}

func (s *redisStore) Get(ctx context.Context, correlationID string) (domain.Draft, bool, error) {
	payload, err := s.client.Get(ctx, draftKey(correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Draft{}, false, nil
	}
	if err != nil {
		return domain.Draft{}, false, err
	}

	var draft domain.Draft
	if err := json.Unmarshal(payload, &draft); err != nil {
		return domain.Draft{}, false, fmt.Errorf("decode draft: %w", err)
	}
	return draft, true, nil
}

func (s *redisStore) Delete(ctx context.Context, correlationID string) error {
	return s.client.Del(ctx, draftKey(correlationID)).Err()
}

func draftKey(correlationID string) string {
	return fmt.Sprintf(keyDraft, key(correlationID))
}
