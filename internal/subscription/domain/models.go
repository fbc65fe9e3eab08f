// Package domain contains persistence models for member subscriptions and
// the billing tokens charged against them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription captures a member's recurring billing agreement.
type Subscription struct {
	ID                  snowflake.ID       `json:"id" gorm:"primaryKey"`
	MemberID            snowflake.ID       `json:"member_id" gorm:"not null;uniqueIndex"`
	PlanTier            string             `json:"plan_tier" gorm:"type:text;not null"`
	CoverageType        string             `json:"coverage_type" gorm:"type:text;not null"`
	Amount              int64              `json:"amount" gorm:"not null"`
	Currency            string             `json:"currency" gorm:"type:text;not null"`
	CurrentPeriodStart  time.Time          `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd    time.Time          `json:"current_period_end" gorm:"not null"`
	NextBillAt          time.Time          `json:"next_bill_at" gorm:"not null"`
	Status              SubscriptionStatus `json:"status" gorm:"type:text;not null"`
	ConsecutiveFailures int                `json:"consecutive_failures" gorm:"not null"`
	CreatedAt           time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt           time.Time          `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// PaymentToken is the opaque gateway reference used for recurring charges.
type PaymentToken struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	SubscriptionID snowflake.ID `json:"subscription_id" gorm:"not null;uniqueIndex"`
	Token          string       `json:"token" gorm:"type:text;not null"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
	LastUsedAt     *time.Time   `json:"last_used_at,omitempty"`
}

// TableName sets the database table name.
func (PaymentToken) TableName() string { return "payment_tokens" }

// FailureTally is the post-update failure state of a subscription.
type FailureTally struct {
	ConsecutiveFailures int
	Status              SubscriptionStatus
}
