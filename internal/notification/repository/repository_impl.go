package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/notification/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const resolvedKeySuffix = "#resolved:"

const selectColumns = `SELECT id, correlation_id, member_id, subscription_id, stage, error_detail,
			metadata, dedupe_key, resolved, resolved_at, resolved_by, created_at
		 FROM admin_notifications`

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, item *domain.Notification) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO admin_notifications (
			id, correlation_id, member_id, subscription_id, stage, error_detail,
			metadata, dedupe_key, resolved, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		item.ID,
		item.CorrelationID,
		item.MemberID,
		item.SubscriptionID,
		item.Stage,
		item.ErrorDetail,
		item.Metadata,
		item.DedupeKey,
		item.Resolved,
		item.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByDedupeKey(ctx context.Context, db *gorm.DB, key string) (*domain.Notification, error) {
	var item domain.Notification
	err := db.WithContext(ctx).Raw(selectColumns+` WHERE dedupe_key = ? LIMIT 1`, key).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Notification, error) {
	var item domain.Notification
	err := db.WithContext(ctx).Raw(selectColumns+` WHERE id = ? LIMIT 1`, id).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListUnresolved(ctx context.Context, db *gorm.DB, limit int) ([]domain.Notification, error) {
	var items []domain.Notification
	err := db.WithContext(ctx).Raw(
		selectColumns+` WHERE resolved = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		false,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkResolved only flips unresolved rows; false means nothing changed.
// The dedupe key is suffixed on resolve so the same condition can be raised
// again once an operator has cleared it.
func (r *repo) MarkResolved(ctx context.Context, db *gorm.DB, id snowflake.ID, by string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE admin_notifications
		 SET resolved = ?, resolved_at = ?, resolved_by = ?, dedupe_key = dedupe_key || ?
		 WHERE id = ? AND resolved = ?`,
		true,
		at,
		by,
		resolvedKeySuffix+id.String(),
		id,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
