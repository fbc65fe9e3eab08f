package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	EnsureClaim(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart, at time.Time) error
	FindClaim(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*PeriodClaim, error)
	// TakeClaim moves a claim to in_flight only while it still holds the
	// status and attempt the caller observed.
	TakeClaim(ctx context.Context, db *gorm.DB, prior PeriodClaim, attempt int, reference string, leaseCutoff, at time.Time) (bool, error)
	SetClaimStatus(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time, status ClaimStatus, at time.Time) error

	InsertLog(ctx context.Context, db *gorm.DB, entry *ChargeLog) error
	ListLogs(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]ChargeLog, error)
}
