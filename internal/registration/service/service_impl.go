package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/registration/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxCorrelationIDLength = 128

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
	Store domain.Store
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	store    domain.Store
	ttl      time.Duration
	currency string
}

func NewService(p Params) domain.Service {
	ttl := p.Cfg.Enrollment.DraftTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Cfg.Enrollment.Currency))
	if currency == "" {
		currency = "USD"
	}
	return &Service{
		log:      p.Log.Named("registration.service"),
		clock:    p.Clock,
		store:    p.Store,
		ttl:      ttl,
		currency: currency,
	}
}

// Stage validates and stores the draft. Staging an existing correlation id
// replaces the draft and restarts its TTL.
func (s *Service) Stage(ctx context.Context, draft domain.Draft) (domain.Draft, error) {
	normalized, err := s.normalize(draft)
	if err != nil {
		return domain.Draft{}, err
	}

	now := s.clock.Now()
	normalized.StagedAt = now
	normalized.ExpiresAt = now.Add(s.ttl)

	if err := s.store.Put(ctx, normalized, s.ttl); err != nil {
		return domain.Draft{}, fmt.Errorf("stage draft: %w", err)
	}

	s.log.Info("registration.draft.staged",
		zap.String("correlation_id", normalized.CorrelationID),
		zap.String("plan_tier", normalized.PlanTier),
		zap.String("coverage_type", normalized.CoverageType),
		zap.Time("expires_at", normalized.ExpiresAt),
	)
	return normalized, nil
}

func (s *Service) Retrieve(ctx context.Context, correlationID string) (domain.Draft, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return domain.Draft{}, domain.ErrInvalidCorrelationID
	}

	draft, ok, err := s.store.Get(ctx, correlationID)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("load draft: %w", err)
	}
	if !ok || !s.clock.Now().Before(draft.ExpiresAt) {
		return domain.Draft{}, domain.ErrDraftExpired
	}
	return draft, nil
}

func (s *Service) Discard(ctx context.Context, correlationID string) error {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return domain.ErrInvalidCorrelationID
	}
	if err := s.store.Delete(ctx, correlationID); err != nil {
		return fmt.Errorf("discard draft: %w", err)
	}
	s.log.Info("registration.draft.discarded", zap.String("correlation_id", correlationID))
	return nil
}

func (s *Service) normalize(draft domain.Draft) (domain.Draft, error) {
	draft.CorrelationID = strings.TrimSpace(draft.CorrelationID)
	if draft.CorrelationID == "" {
		draft.CorrelationID = uuid.NewString()
	}
	if len(draft.CorrelationID) > maxCorrelationIDLength {
		return domain.Draft{}, domain.ErrInvalidCorrelationID
	}

	draft.FirstName = strings.TrimSpace(draft.FirstName)
	draft.LastName = strings.TrimSpace(draft.LastName)
	if draft.FirstName == "" || draft.LastName == "" {
		return domain.Draft{}, domain.ErrInvalidName
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(draft.Email))
	if err != nil {
		return domain.Draft{}, domain.ErrInvalidEmail
	}
	draft.Email = strings.ToLower(addr.Address)

	draft.Address.Line1 = strings.TrimSpace(draft.Address.Line1)
	draft.Address.Line2 = strings.TrimSpace(draft.Address.Line2)
	draft.Address.City = strings.TrimSpace(draft.Address.City)
	draft.Address.State = strings.TrimSpace(draft.Address.State)
	draft.Address.PostalCode = strings.TrimSpace(draft.Address.PostalCode)
	if draft.Address.Line1 == "" || draft.Address.City == "" || draft.Address.PostalCode == "" {
		return domain.Draft{}, domain.ErrInvalidAddress
	}

	draft.PlanTier = strings.TrimSpace(draft.PlanTier)
	draft.CoverageType = strings.TrimSpace(draft.CoverageType)
	if draft.PlanTier == "" || draft.CoverageType == "" {
		return domain.Draft{}, domain.ErrInvalidPlan
	}
	if draft.Amount <= 0 {
		return domain.Draft{}, domain.ErrInvalidAmount
	}

	draft.Currency = strings.ToUpper(strings.TrimSpace(draft.Currency))
	if draft.Currency == "" {
		draft.Currency = s.currency
	}
	if len(draft.Currency) != 3 {
		return domain.Draft{}, domain.ErrInvalidCurrency
	}

	if !draft.Consents.Terms || !draft.Consents.ESignature || !draft.Consents.RecurringBilling {
		return domain.Draft{}, domain.ErrConsentRequired
	}

	draft.Phone = strings.TrimSpace(draft.Phone)
	draft.DateOfBirth = strings.TrimSpace(draft.DateOfBirth)
	draft.Employer = strings.TrimSpace(draft.Employer)
	draft.EmploymentStatus = strings.TrimSpace(draft.EmploymentStatus)
	draft.AgentID = strings.TrimSpace(draft.AgentID)
	return draft, nil
}
