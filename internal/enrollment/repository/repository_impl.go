package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/enrollment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, item *domain.Finalization) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO finalizations (
			id, gateway_transaction_id, correlation_id, payment_session_id, state,
			failed_stages, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (gateway_transaction_id) DO NOTHING`,
		item.ID,
		item.GatewayTransactionID,
		item.CorrelationID,
		item.PaymentSessionID,
		item.State,
		item.FailedStages,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*domain.Finalization, error) {
	var item domain.Finalization
	err := db.WithContext(ctx).Raw(
		`SELECT id, gateway_transaction_id, correlation_id, payment_session_id, state,
			member_id, subscription_id, failed_stages, created_at, updated_at, completed_at
		 FROM finalizations
		 WHERE gateway_transaction_id = ?
		 LIMIT 1`,
		transactionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// Advance records progress. Terminal rows are never moved back.
func (r *repo) Advance(ctx context.Context, db *gorm.DB, id snowflake.ID, state domain.State, memberID, subscriptionID *snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE finalizations
		 SET state = ?,
			member_id = COALESCE(?, member_id),
			subscription_id = COALESCE(?, subscription_id),
			updated_at = ?
		 WHERE id = ? AND state NOT IN (?, ?)`,
		state,
		memberID,
		subscriptionID,
		at,
		id,
		domain.StateComplete,
		domain.StateQuarantined,
	).Error
}

func (r *repo) Finish(ctx context.Context, db *gorm.DB, id snowflake.ID, state domain.State, failedStages string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE finalizations
		 SET state = ?, failed_stages = ?, updated_at = ?, completed_at = ?
		 WHERE id = ? AND state NOT IN (?, ?)`,
		state,
		failedStages,
		at,
		at,
		id,
		domain.StateComplete,
		domain.StateQuarantined,
	).Error
}
