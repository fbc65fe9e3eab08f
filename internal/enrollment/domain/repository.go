package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, item *Finalization) (bool, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*Finalization, error)
	Advance(ctx context.Context, db *gorm.DB, id snowflake.ID, state State, memberID, subscriptionID *snowflake.ID, at time.Time) error
	Finish(ctx context.Context, db *gorm.DB, id snowflake.ID, state State, failedStages string, at time.Time) error
}
