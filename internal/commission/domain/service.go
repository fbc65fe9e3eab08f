package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateCommissionRequest struct {
	AgentID      string
	MemberID     snowflake.ID
	PlanTier     string
	CoverageType string
}

type Service interface {
	Calculate(tier, coverage string) (Amount, error)
	Create(ctx context.Context, req CreateCommissionRequest) (Commission, error)
	GetByMemberID(ctx context.Context, memberID snowflake.ID) (Commission, error)
}

var (
	ErrRateNotFound  = errors.New("commission_rate_not_found")
	ErrInvalidTable  = errors.New("invalid_commission_table")
	ErrInvalidAgent  = errors.New("invalid_agent")
	ErrInvalidMember = errors.New("invalid_member")
	ErrNotFound      = errors.New("not_found")
)
