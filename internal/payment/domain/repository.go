package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, session *PaymentSession) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentSession, error)
	FindByGatewaySessionID(ctx context.Context, db *gorm.DB, gatewaySessionID string) (*PaymentSession, error)
	CountAttempts(ctx context.Context, db *gorm.DB, correlationID string) (int, error)
	CountRejected(ctx context.Context, db *gorm.DB, correlationID string) (int, error)
	AttachGatewaySession(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewaySessionID string, at time.Time) error
	MarkCallbackReceived(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionID string, payload []byte, at time.Time) (bool, error)
	MarkVerified(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionID string, at time.Time) (bool, error)
	MarkRejected(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionID *string, reason string, at time.Time) (bool, error)
}
