package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	NextSequence(ctx context.Context, db *gorm.DB, period string) (int64, error)
	InsertIfAbsent(ctx context.Context, db *gorm.DB, member *Member) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Member, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*Member, error)
	FindByCustomerNumber(ctx context.Context, db *gorm.DB, customerNumber string) (*Member, error)
}
