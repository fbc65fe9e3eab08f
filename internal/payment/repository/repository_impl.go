package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/payment/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `SELECT id, correlation_id, attempt, amount, currency, plan_tier, coverage_type, gateway_session_id,
			status, gateway_transaction_id, failure_reason, callback_payload, created_at, updated_at
		 FROM payment_sessions`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, session *domain.PaymentSession) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_sessions (
			id, correlation_id, attempt, amount, currency, plan_tier, coverage_type,
			gateway_session_id, status, gateway_transaction_id, failure_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.CorrelationID,
		session.Attempt,
		session.Amount,
		session.Currency,
		session.PlanTier,
		session.CoverageType,
		session.GatewaySessionID,
		session.Status,
		session.GatewayTransactionID,
		session.FailureReason,
		session.CreatedAt,
		session.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentSession, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE id = ? LIMIT 1`, id)
}

func (r *repo) FindByGatewaySessionID(ctx context.Context, db *gorm.DB, gatewaySessionID string) (*domain.PaymentSession, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE gateway_session_id = ? LIMIT 1`, gatewaySessionID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.PaymentSession, error) {
	var item domain.PaymentSession
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) CountAttempts(ctx context.Context, db *gorm.DB, correlationID string) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payment_sessions WHERE correlation_id = ?`,
		correlationID,
	).Scan(&count).Error
	return int(count), err
}

func (r *repo) CountRejected(ctx context.Context, db *gorm.DB, correlationID string) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payment_sessions WHERE correlation_id = ? AND status = ?`,
		correlationID,
		domain.SessionStatusRejected,
	).Scan(&count).Error
	return int(count), err
}

func (r *repo) AttachGatewaySession(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewaySessionID string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_sessions
		 SET gateway_session_id = ?, updated_at = ?
		 WHERE id = ?`,
		gatewaySessionID,
		at,
		id,
	).Error
}

// MarkCallbackReceived moves an initiated session forward; later states are left alone.
func (r *repo) MarkCallbackReceived(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionID string, payload []byte, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_sessions
		 SET status = ?, gateway_transaction_id = ?, callback_payload = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.SessionStatusCallbackReceived,
		transactionID,
		datatypes.JSON(payload),
		at,
		id,
		domain.SessionStatusInitiated,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkVerified(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_sessions
		 SET status = ?, gateway_transaction_id = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.SessionStatusVerified,
		transactionID,
		at,
		id,
		domain.SessionStatusInitiated,
		domain.SessionStatusCallbackReceived,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkRejected(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionID *string, reason string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_sessions
		 SET status = ?, gateway_transaction_id = COALESCE(?, gateway_transaction_id),
			failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.SessionStatusRejected,
		transactionID,
		reason,
		at,
		id,
		domain.SessionStatusInitiated,
		domain.SessionStatusCallbackReceived,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
