package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `SELECT id, member_id, plan_tier, coverage_type, amount, currency,
			current_period_start, current_period_end, next_bill_at, status,
			consecutive_failures, created_at, updated_at
		 FROM subscriptions`

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, sub *domain.Subscription) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, member_id, plan_tier, coverage_type, amount, currency,
			current_period_start, current_period_end, next_bill_at, status,
			consecutive_failures, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (member_id) DO NOTHING`,
		sub.ID,
		sub.MemberID,
		sub.PlanTier,
		sub.CoverageType,
		sub.Amount,
		sub.Currency,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.NextBillAt,
		sub.Status,
		sub.ConsecutiveFailures,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE id = ? LIMIT 1`, id)
}

func (r *repo) FindByMemberID(ctx context.Context, db *gorm.DB, memberID snowflake.ID) (*domain.Subscription, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE member_id = ? LIMIT 1`, memberID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Subscription, error) {
	var item domain.Subscription
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// ListDue pages through billable subscriptions by id so a batch that is
// still being charged never shifts the next page.
func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := db.WithContext(ctx).Raw(
		selectColumns+`
		 WHERE status IN (?, ?) AND next_bill_at <= ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		domain.SubscriptionStatusActive,
		domain.SubscriptionStatusPastDue,
		now,
		afterID,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, fromStart, start, end time.Time, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET current_period_start = ?,
			current_period_end = ?,
			next_bill_at = ?,
			status = ?,
			consecutive_failures = 0,
			updated_at = ?
		 WHERE id = ? AND current_period_start = ?`,
		start,
		end,
		end,
		domain.SubscriptionStatusActive,
		at,
		id,
		fromStart,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, threshold int, at time.Time) (domain.FailureTally, error) {
	var tally domain.FailureTally
	err := db.WithContext(ctx).Raw(
		`UPDATE subscriptions
		 SET consecutive_failures = consecutive_failures + 1,
			status = CASE WHEN consecutive_failures + 1 >= ? THEN ? ELSE status END,
			updated_at = ?
		 WHERE id = ?
		 RETURNING consecutive_failures, status`,
		threshold,
		domain.SubscriptionStatusPastDue,
		at,
		id,
	).Scan(&tally).Error
	return tally, err
}

func (r *repo) InsertTokenIfAbsent(ctx context.Context, db *gorm.DB, token *domain.PaymentToken) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_tokens (id, subscription_id, token, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (subscription_id) DO NOTHING`,
		token.ID,
		token.SubscriptionID,
		token.Token,
		token.CreatedAt,
		token.LastUsedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindTokenBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*domain.PaymentToken, error) {
	var item domain.PaymentToken
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, token, created_at, last_used_at
		 FROM payment_tokens
		 WHERE subscription_id = ?
		 LIMIT 1`,
		subscriptionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) TouchToken(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_tokens SET last_used_at = ? WHERE subscription_id = ?`,
		at,
		subscriptionID,
	).Error
}
