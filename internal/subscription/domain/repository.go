package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, sub *Subscription) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByMemberID(ctx context.Context, db *gorm.DB, memberID snowflake.ID) (*Subscription, error)
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]Subscription, error)
	AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, fromStart, start, end time.Time, at time.Time) (bool, error)
	RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, threshold int, at time.Time) (FailureTally, error)

	InsertTokenIfAbsent(ctx context.Context, db *gorm.DB, token *PaymentToken) (bool, error)
	FindTokenBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*PaymentToken, error)
	TouchToken(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) error
}
