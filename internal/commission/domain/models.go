package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

// Commission is the payout obligation to the enrolling agent for one member.
type Commission struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	AgentID       string        `json:"agent_id" gorm:"type:text;not null"`
	MemberID      snowflake.ID  `json:"member_id" gorm:"not null;uniqueIndex"`
	Amount        int64         `json:"amount" gorm:"not null"`
	Currency      string        `json:"currency" gorm:"type:text;not null"`
	PlanTier      string        `json:"plan_tier" gorm:"type:text;not null"`
	CoverageType  string        `json:"coverage_type" gorm:"type:text;not null"`
	PaymentStatus PaymentStatus `json:"payment_status" gorm:"type:text;not null"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null"`
}

func (Commission) TableName() string { return "commissions" }

// Amount is a commission value in minor units.
type Amount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}
