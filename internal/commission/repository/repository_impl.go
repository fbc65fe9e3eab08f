package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/commission/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertIfAbsent reports false when the member already has a commission row.
func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, commission *domain.Commission) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO commissions (
			id, agent_id, member_id, amount, currency, plan_tier, coverage_type,
			payment_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (member_id) DO NOTHING`,
		commission.ID,
		commission.AgentID,
		commission.MemberID,
		commission.Amount,
		commission.Currency,
		commission.PlanTier,
		commission.CoverageType,
		commission.PaymentStatus,
		commission.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByMemberID(ctx context.Context, db *gorm.DB, memberID snowflake.ID) (*domain.Commission, error) {
	var item domain.Commission
	err := db.WithContext(ctx).Raw(
		`SELECT id, agent_id, member_id, amount, currency, plan_tier, coverage_type,
			payment_status, created_at
		 FROM commissions
		 WHERE member_id = ?
		 LIMIT 1`,
		memberID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
