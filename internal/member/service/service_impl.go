package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/member/domain"
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
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	prefix string
	repo   domain.Repository
}

func NewService(p Params) domain.Service {
	prefix := strings.TrimSpace(p.Cfg.Enrollment.CustomerNumberPrefix)
	if prefix == "" {
		prefix = "MB"
	}
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("member.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		prefix: prefix,
		repo:   p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, tx *gorm.DB, req domain.CreateMemberRequest) (domain.Member, bool, error) {
	if tx == nil {
		tx = s.db
	}
	req.GatewayTransactionID = strings.TrimSpace(req.GatewayTransactionID)
	if req.GatewayTransactionID == "" {
		return domain.Member{}, false, domain.ErrInvalidTransaction
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return domain.Member{}, false, domain.ErrInvalidName
	}
	if strings.TrimSpace(req.PlanTier) == "" || strings.TrimSpace(req.CoverageType) == "" {
		return domain.Member{}, false, domain.ErrInvalidPlan
	}

	existing, err := s.repo.FindByTransactionID(ctx, tx, req.GatewayTransactionID)
	if err != nil {
		return domain.Member{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	now := s.clock.Now().UTC()
	customerNumber, err := s.nextCustomerNumber(ctx, tx, now)
	if err != nil {
		return domain.Member{}, false, err
	}

	member := domain.Member{
		ID:                   s.genID.Generate(),
		CustomerNumber:       customerNumber,
		GatewayTransactionID: req.GatewayTransactionID,
		CorrelationID:        strings.TrimSpace(req.CorrelationID),
		FirstName:            strings.TrimSpace(req.FirstName),
		LastName:             strings.TrimSpace(req.LastName),
		Email:                strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:                strings.TrimSpace(req.Phone),
		DateOfBirth:          strings.TrimSpace(req.DateOfBirth),
		AddressLine1:         strings.TrimSpace(req.AddressLine1),
		AddressLine2:         strings.TrimSpace(req.AddressLine2),
		City:                 strings.TrimSpace(req.City),
		State:                strings.TrimSpace(req.State),
		PostalCode:           strings.TrimSpace(req.PostalCode),
		Employer:             strings.TrimSpace(req.Employer),
		EmploymentStatus:     strings.TrimSpace(req.EmploymentStatus),
		PlanTier:             strings.TrimSpace(req.PlanTier),
		CoverageType:         strings.TrimSpace(req.CoverageType),
		AgentID:              strings.TrimSpace(req.AgentID),
		IsActive:             true,
		Status:               domain.StatusActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, tx, &member)
	if err != nil {
		return domain.Member{}, false, err
	}
	if !inserted {
		// Lost a race on the transaction id; the other writer's row wins.
		existing, err := s.repo.FindByTransactionID(ctx, tx, req.GatewayTransactionID)
		if err != nil {
			return domain.Member{}, false, err
		}
		if existing == nil {
			return domain.Member{}, false, domain.ErrNotFound
		}
		return *existing, false, nil
	}

	s.log.Info("member.created",
		zap.String("member_id", member.ID.String()),
		zap.String("customer_number", member.CustomerNumber),
		zap.String("correlation_id", member.CorrelationID),
	)
	return member, true, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Member, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Member{}, err
	}
	if item == nil {
		return domain.Member{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) GetByCustomerNumber(ctx context.Context, customerNumber string) (domain.Member, error) {
	item, err := s.repo.FindByCustomerNumber(ctx, s.db, strings.TrimSpace(customerNumber))
	if err != nil {
		return domain.Member{}, err
	}
	if item == nil {
		return domain.Member{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) GetByTransactionID(ctx context.Context, transactionID string) (domain.Member, error) {
	item, err := s.repo.FindByTransactionID(ctx, s.db, strings.TrimSpace(transactionID))
	if err != nil {
		return domain.Member{}, err
	}
	if item == nil {
		return domain.Member{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) nextCustomerNumber(ctx context.Context, tx *gorm.DB, now time.Time) (string, error) {
	period := now.Format("200601")
	seq, err := s.repo.NextSequence(ctx, tx, period)
	if err != nil {
		return "", err
	}
	return FormatCustomerNumber(s.prefix, period, seq), nil
}

func FormatCustomerNumber(prefix, period string, seq int64) string {
	return fmt.Sprintf("%s%s%05d", prefix, period, seq)
}
