package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, commission *Commission) (bool, error)
	FindByMemberID(ctx context.Context, db *gorm.DB, memberID snowflake.ID) (*Commission, error)
}
