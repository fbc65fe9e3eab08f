package store

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/enrollment/internal/cache"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/registration/domain"
)

type memoryStore struct {
	drafts cache.Cache[string, domain.Draft]
}

// NewMemoryStore keeps drafts in process. Drafts are lost on restart.
func NewMemoryStore(clk clock.Clock) domain.Store {
	return &memoryStore{drafts: cache.NewTTLCache[string, domain.Draft](clk)}
}

func (s *memoryStore) Put(_ context.Context, draft domain.Draft, ttl time.Duration) error {
	s.drafts.Set(key(draft.CorrelationID), draft, ttl)
	return nil
}

func (s *memoryStore) Get(_ context.Context, correlationID string) (domain.Draft, bool, error) {
	draft, ok := s.drafts.Get(key(correlationID))
	return draft, ok, nil
}

func (s *memoryStore) Delete(_ context.Context, correlationID string) error {
	s.drafts.Delete(key(correlationID))
	return nil
}

func key(correlationID string) string {
	return strings.TrimSpace(correlationID)
}
