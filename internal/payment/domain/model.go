package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SessionStatus string

const (
	SessionStatusInitiated        SessionStatus = "initiated"
	SessionStatusCallbackReceived SessionStatus = "callback_received"
	SessionStatusVerified         SessionStatus = "verified"
	SessionStatusRejected         SessionStatus = "rejected"
)

// PaymentSession is one attempt to collect the first payment for a draft.
type PaymentSession struct {
	ID                   snowflake.ID   `json:"id" gorm:"primaryKey"`
	CorrelationID        string         `json:"correlation_id" gorm:"type:text;not null"`
	Attempt              int            `json:"attempt" gorm:"not null"`
	Amount               int64          `json:"amount" gorm:"not null"`
	Currency             string         `json:"currency" gorm:"type:text;not null"`
	PlanTier             string         `json:"plan_tier" gorm:"type:text;not null"`
	CoverageType         string         `json:"coverage_type" gorm:"type:text;not null"`
	GatewaySessionID     *string        `json:"gateway_session_id,omitempty"`
	Status               SessionStatus  `json:"status" gorm:"type:text;not null"`
	GatewayTransactionID *string        `json:"gateway_transaction_id,omitempty"`
	FailureReason        *string        `json:"failure_reason,omitempty"`
	CallbackPayload      datatypes.JSON `json:"-" gorm:"type:jsonb"`
	CreatedAt            time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time      `json:"updated_at" gorm:"not null"`
}

func (PaymentSession) TableName() string { return "payment_sessions" }

func (s PaymentSession) Terminal() bool {
	return s.Status == SessionStatusVerified || s.Status == SessionStatusRejected
}
