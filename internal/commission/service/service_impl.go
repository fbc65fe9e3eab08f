package service

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/commission/calculator"
	"github.com/smallbiznis/enrollment/internal/commission/domain"
	"github.com/smallbiznis/enrollment/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Tables *config.CommissionTableHolder
	Repo   domain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	tables *config.CommissionTableHolder
	repo   domain.Repository
	calc   atomic.Pointer[cachedCalculator]
}

type cachedCalculator struct {
	version uint64
	calc    *calculator.Calculator
}

func NewService(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("commission.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		tables: p.Tables,
		repo:   p.Repo,
	}
}

// Calculate evaluates against the table snapshot current at call time.
func (s *Service) Calculate(tier, coverage string) (domain.Amount, error) {
	calc, err := s.calculator()
	if err != nil {
		return domain.Amount{}, err
	}
	return calc.Calculate(tier, coverage)
}

// calculator rebuilds only when the table snapshot has been swapped.
func (s *Service) calculator() (*calculator.Calculator, error) {
	table, version := s.tables.Snapshot()
	if cached := s.calc.Load(); cached != nil && cached.version == version {
		return cached.calc, nil
	}
	calc, err := calculator.New(table)
	if err != nil {
		return nil, err
	}
	s.calc.Store(&cachedCalculator{version: version, calc: calc})
	return calc, nil
}

// Create inserts the member's commission once. A second call for the same
// member returns the stored row untouched.
func (s *Service) Create(ctx context.Context, req domain.CreateCommissionRequest) (domain.Commission, error) {
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		return domain.Commission{}, domain.ErrInvalidAgent
	}
	if req.MemberID == 0 {
		return domain.Commission{}, domain.ErrInvalidMember
	}

	amount, err := s.Calculate(req.PlanTier, req.CoverageType)
	if err != nil {
		return domain.Commission{}, err
	}

	item := domain.Commission{
		ID:            s.genID.Generate(),
		AgentID:       agentID,
		MemberID:      req.MemberID,
		Amount:        amount.Value,
		Currency:      amount.Currency,
		PlanTier:      strings.TrimSpace(req.PlanTier),
		CoverageType:  strings.TrimSpace(req.CoverageType),
		PaymentStatus: domain.PaymentStatusUnpaid,
		CreatedAt:     s.clock.Now(),
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, &item)
	if err != nil {
		return domain.Commission{}, err
	}
	if inserted {
		s.log.Info("commission.created",
			zap.String("agent_id", item.AgentID),
			zap.String("member_id", item.MemberID.String()),
			zap.Int64("amount", item.Amount),
		)
		return item, nil
	}

	existing, err := s.repo.FindByMemberID(ctx, s.db, req.MemberID)
	if err != nil {
		return domain.Commission{}, err
	}
	if existing == nil {
		return domain.Commission{}, domain.ErrNotFound
	}
	return *existing, nil
}

func (s *Service) GetByMemberID(ctx context.Context, memberID snowflake.ID) (domain.Commission, error) {
	item, err := s.repo.FindByMemberID(ctx, s.db, memberID)
	if err != nil {
		return domain.Commission{}, err
	}
	if item == nil {
		return domain.Commission{}, domain.ErrNotFound
	}
	return *item, nil
}
