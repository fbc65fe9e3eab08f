package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Stage string

// Finalization stages share their names with the finalization states they failed to reach.
const (
	StageMemberCreated       Stage = "member_created"
	StageSubscriptionCreated Stage = "subscription_created"
	StageTokenStored         Stage = "token_stored"
	StageCommissionCreated   Stage = "commission_created"
	StageBillingNoToken      Stage = "billing_no_token"
	StageBillingPastDue      Stage = "billing_past_due"
	StageBillingReconcile    Stage = "billing_reconcile"
)

// Notification is a partial failure that needs an operator.
type Notification struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	CorrelationID  string         `json:"correlation_id" gorm:"type:text;not null"`
	MemberID       *snowflake.ID  `json:"member_id,omitempty"`
	SubscriptionID *snowflake.ID  `json:"subscription_id,omitempty"`
	Stage          Stage          `json:"stage" gorm:"type:text;not null"`
	ErrorDetail    string         `json:"error_detail" gorm:"type:text;not null"`
	Metadata       datatypes.JSON `json:"metadata" gorm:"type:jsonb;not null"`
	DedupeKey      string         `json:"dedupe_key" gorm:"type:text;not null;uniqueIndex"`
	Resolved       bool           `json:"resolved" gorm:"not null"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy     *string        `json:"resolved_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null"`
}

func (Notification) TableName() string { return "admin_notifications" }

// Entry is the input to Record. DedupeKey defaults to stage plus the
// referenced correlation, member and subscription.
type Entry struct {
	CorrelationID  string
	MemberID       *snowflake.ID
	SubscriptionID *snowflake.ID
	Stage          Stage
	Err            error
	Detail         string
	Metadata       map[string]any
	DedupeKey      string
}
