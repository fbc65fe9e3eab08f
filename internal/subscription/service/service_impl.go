package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
	Repo  domain.Repository
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	periodMonths int
	repo         domain.Repository
}

func NewService(p Params) domain.Service {
	months := p.Cfg.Billing.PeriodMonths
	if months <= 0 {
		months = 1
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("subscription.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		periodMonths: months,
		repo:         p.Repo,
	}
}

// Create opens the first billing period at enrollment time. A second call for
// the same member returns the existing subscription.
func (s *Service) Create(ctx context.Context, req domain.CreateSubscriptionRequest) (domain.Subscription, error) {
	if req.MemberID == 0 {
		return domain.Subscription{}, domain.ErrInvalidMember
	}
	planTier := strings.TrimSpace(req.PlanTier)
	coverage := strings.TrimSpace(req.CoverageType)
	if planTier == "" || coverage == "" {
		return domain.Subscription{}, domain.ErrInvalidPlan
	}
	if req.Amount <= 0 {
		return domain.Subscription{}, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return domain.Subscription{}, domain.ErrInvalidCurrency
	}

	now := s.clock.Now().UTC()
	end := domain.AddPeriod(now, s.periodMonths)
	sub := domain.Subscription{
		ID:                 s.genID.Generate(),
		MemberID:           req.MemberID,
		PlanTier:           planTier,
		CoverageType:       coverage,
		Amount:             req.Amount,
		Currency:           currency,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   end,
		NextBillAt:         end,
		Status:             domain.SubscriptionStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, &sub)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !inserted {
		return s.GetByMemberID(ctx, req.MemberID)
	}

	s.log.Info("subscription.created",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("member_id", sub.MemberID.String()),
		zap.Time("next_bill_at", sub.NextBillAt),
	)
	return sub, nil
}

func (s *Service) StoreToken(ctx context.Context, subscriptionID snowflake.ID, token string) (domain.PaymentToken, error) {
	if subscriptionID == 0 {
		return domain.PaymentToken{}, domain.ErrNotFound
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.PaymentToken{}, domain.ErrInvalidToken
	}

	item := domain.PaymentToken{
		ID:             s.genID.Generate(),
		SubscriptionID: subscriptionID,
		Token:          token,
		CreatedAt:      s.clock.Now().UTC(),
	}
	inserted, err := s.repo.InsertTokenIfAbsent(ctx, s.db, &item)
	if err != nil {
		return domain.PaymentToken{}, err
	}
	if !inserted {
		return s.GetToken(ctx, subscriptionID)
	}

	s.log.Info("subscription.token_stored", zap.String("subscription_id", subscriptionID.String()))
	return item, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Subscription, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if item == nil {
		return domain.Subscription{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) GetByMemberID(ctx context.Context, memberID snowflake.ID) (domain.Subscription, error) {
	item, err := s.repo.FindByMemberID(ctx, s.db, memberID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if item == nil {
		return domain.Subscription{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) GetToken(ctx context.Context, subscriptionID snowflake.ID) (domain.PaymentToken, error) {
	item, err := s.repo.FindTokenBySubscriptionID(ctx, s.db, subscriptionID)
	if err != nil {
		return domain.PaymentToken{}, err
	}
	if item == nil {
		return domain.PaymentToken{}, domain.ErrTokenNotFound
	}
	return *item, nil
}

func (s *Service) ListDue(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]domain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListDue(ctx, s.db, now.UTC(), afterID, limit)
}

func (s *Service) RecordPayment(ctx context.Context, id snowflake.ID, periodStart time.Time) (bool, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !sub.CurrentPeriodStart.Equal(periodStart) {
		return false, nil
	}

	now := s.clock.Now().UTC()
	start := sub.CurrentPeriodEnd.UTC()
	end := domain.AddPeriod(start, s.periodMonths)

	var advanced bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.AdvancePeriod(ctx, tx, id, sub.CurrentPeriodStart.UTC(), start, end, now)
		if err != nil {
			return err
		}
		advanced = ok
		if !ok {
			return nil
		}
		return s.repo.TouchToken(ctx, tx, id, now)
	})
	if err != nil {
		return false, err
	}
	if advanced {
		s.log.Info("subscription.period_advanced",
			zap.String("subscription_id", id.String()),
			zap.Time("period_start", start),
			zap.Time("next_bill_at", end),
		)
	}
	return advanced, nil
}

func (s *Service) RecordFailure(ctx context.Context, id snowflake.ID, threshold int) (domain.FailureTally, error) {
	if threshold <= 0 {
		threshold = 1
	}
	tally, err := s.repo.RecordFailure(ctx, s.db, id, threshold, s.clock.Now().UTC())
	if err != nil {
		return domain.FailureTally{}, err
	}
	if tally.Status == "" {
		return domain.FailureTally{}, domain.ErrNotFound
	}
	return tally, nil
}
