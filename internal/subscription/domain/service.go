package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateSubscriptionRequest struct {
	MemberID     snowflake.ID
	PlanTier     string
	CoverageType string
	Amount       int64
	Currency     string
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	StoreToken(ctx context.Context, subscriptionID snowflake.ID, token string) (PaymentToken, error)
	GetByID(ctx context.Context, id snowflake.ID) (Subscription, error)
	GetByMemberID(ctx context.Context, memberID snowflake.ID) (Subscription, error)
	GetToken(ctx context.Context, subscriptionID snowflake.ID) (PaymentToken, error)

	ListDue(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]Subscription, error)
	// RecordPayment moves a subscription whose period starting at periodStart
	// was paid into its next period. It reports false when the period was
	// already advanced.
	RecordPayment(ctx context.Context, id snowflake.ID, periodStart time.Time) (bool, error)
	RecordFailure(ctx context.Context, id snowflake.ID, threshold int) (FailureTally, error)
}

var (
	ErrInvalidMember   = errors.New("invalid_member_id")
	ErrInvalidPlan     = errors.New("invalid_plan")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidToken    = errors.New("invalid_payment_token")
	ErrNotFound        = errors.New("subscription_not_found")
	ErrTokenNotFound   = errors.New("payment_token_not_found")
)
