package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateMemberRequest struct {
	GatewayTransactionID string
	CorrelationID        string
	FirstName            string
	LastName             string
	Email                string
	Phone                string
	DateOfBirth          string
	AddressLine1         string
	AddressLine2         string
	City                 string
	State                string
	PostalCode           string
	Employer             string
	EmploymentStatus     string
	PlanTier             string
	CoverageType         string
	AgentID              string
}

type Service interface {
	// Create runs on the supplied handle so callers can keep it inside their
	// own transaction. The second return reports whether a new row was written.
	Create(ctx context.Context, tx *gorm.DB, req CreateMemberRequest) (Member, bool, error)
	GetByID(ctx context.Context, id snowflake.ID) (Member, error)
	GetByCustomerNumber(ctx context.Context, customerNumber string) (Member, error)
	GetByTransactionID(ctx context.Context, transactionID string) (Member, error)
}

var (
	ErrInvalidTransaction = errors.New("invalid_gateway_transaction_id")
	ErrInvalidName        = errors.New("invalid_member_name")
	ErrInvalidPlan        = errors.New("invalid_plan")
	ErrNotFound           = errors.New("member_not_found")
)
