package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/billing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsureClaim(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_period_claims (
			subscription_id, period_start, status, attempt, reference, claimed_at, updated_at
		) VALUES (?, ?, ?, 0, '', NULL, ?)
		ON CONFLICT (subscription_id, period_start) DO NOTHING`,
		subscriptionID,
		periodStart.UTC(),
		domain.ClaimStatusOpen,
		at,
	).Error
}

func (r *repo) FindClaim(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*domain.PeriodClaim, error) {
	var item domain.PeriodClaim
	err := db.WithContext(ctx).Raw(
		`SELECT subscription_id, period_start, status, attempt, reference, claimed_at, updated_at
		 FROM billing_period_claims
		 WHERE subscription_id = ? AND period_start = ?
		 LIMIT 1`,
		subscriptionID,
		periodStart.UTC(),
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.SubscriptionID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) TakeClaim(ctx context.Context, db *gorm.DB, prior domain.PeriodClaim, attempt int, reference string, leaseCutoff, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_period_claims
		 SET status = ?, attempt = ?, reference = ?, claimed_at = ?, updated_at = ?
		 WHERE subscription_id = ? AND period_start = ?
		   AND status = ? AND attempt = ?
		   AND (status <> ? OR claimed_at <= ?)`,
		domain.ClaimStatusInFlight,
		attempt,
		reference,
		at,
		at,
		prior.SubscriptionID,
		prior.PeriodStart.UTC(),
		prior.Status,
		prior.Attempt,
		domain.ClaimStatusInFlight,
		leaseCutoff,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetClaimStatus(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time, status domain.ClaimStatus, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_period_claims
		 SET status = ?, updated_at = ?
		 WHERE subscription_id = ? AND period_start = ?`,
		status,
		at,
		subscriptionID,
		periodStart.UTC(),
	).Error
}

func (r *repo) InsertLog(ctx context.Context, db *gorm.DB, entry *domain.ChargeLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO recurring_billing_logs (
			id, subscription_id, period_start, attempt, amount, currency, outcome,
			gateway_transaction_id, reference, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.SubscriptionID,
		entry.PeriodStart.UTC(),
		entry.Attempt,
		entry.Amount,
		entry.Currency,
		entry.Outcome,
		entry.GatewayTransactionID,
		entry.Reference,
		entry.Detail,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListLogs(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]domain.ChargeLog, error) {
	var items []domain.ChargeLog
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, period_start, attempt, amount, currency, outcome,
			gateway_transaction_id, reference, detail, created_at
		 FROM recurring_billing_logs
		 WHERE subscription_id = ?
		 ORDER BY id ASC`,
		subscriptionID,
	).Scan(&items).Error
	return items, err
}
