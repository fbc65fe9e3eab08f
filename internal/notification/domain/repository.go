package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, item *Notification) (bool, error)
	FindByDedupeKey(ctx context.Context, db *gorm.DB, key string) (*Notification, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Notification, error)
	ListUnresolved(ctx context.Context, db *gorm.DB, limit int) ([]Notification, error)
	MarkResolved(ctx context.Context, db *gorm.DB, id snowflake.ID, by string, at time.Time) (bool, error)
}
