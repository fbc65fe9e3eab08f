package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/member/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `SELECT id, customer_number, gateway_transaction_id, correlation_id,
			first_name, last_name, email, phone, date_of_birth,
			address_line1, address_line2, city, state, postal_code,
			employer, employment_status, plan_tier, coverage_type, agent_id,
			is_active, status, created_at, updated_at
		 FROM members`

// NextSequence hands out the next number for a period. The upsert keeps
// concurrent finalizations from reading the same value.
func (r *repo) NextSequence(ctx context.Context, db *gorm.DB, period string) (int64, error) {
	var value int64
	err := db.WithContext(ctx).Raw(
		`INSERT INTO member_number_sequences (period, last_value)
		 VALUES (?, 1)
		 ON CONFLICT (period) DO UPDATE SET last_value = member_number_sequences.last_value + 1
		 RETURNING last_value`,
		period,
	).Scan(&value).Error
	return value, err
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, m *domain.Member) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO members (
			id, customer_number, gateway_transaction_id, correlation_id,
			first_name, last_name, email, phone, date_of_birth,
			address_line1, address_line2, city, state, postal_code,
			employer, employment_status, plan_tier, coverage_type, agent_id,
			is_active, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (gateway_transaction_id) DO NOTHING`,
		m.ID,
		m.CustomerNumber,
		m.GatewayTransactionID,
		m.CorrelationID,
		m.FirstName,
		m.LastName,
		m.Email,
		m.Phone,
		m.DateOfBirth,
		m.AddressLine1,
		m.AddressLine2,
		m.City,
		m.State,
		m.PostalCode,
		m.Employer,
		m.EmploymentStatus,
		m.PlanTier,
		m.CoverageType,
		m.AgentID,
		m.IsActive,
		m.Status,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Member, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE id = ? LIMIT 1`, id)
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*domain.Member, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE gateway_transaction_id = ? LIMIT 1`, transactionID)
}

func (r *repo) FindByCustomerNumber(ctx context.Context, db *gorm.DB, customerNumber string) (*domain.Member, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE customer_number = ? LIMIT 1`, customerNumber)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Member, error) {
	var item domain.Member
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
