package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type State string

const (
	StatePending             State = "pending"
	StatePaymentVerified     State = "payment_verified"
	StateMemberCreated       State = "member_created"
	StateSubscriptionCreated State = "subscription_created"
	StateTokenStored         State = "token_stored"
	StateCommissionCreated   State = "commission_created"
	StateComplete            State = "complete"
	StateQuarantined         State = "quarantined"
)

func (s State) Terminal() bool {
	return s == StateComplete || s == StateQuarantined
}

// Finalization is the durable record of turning one captured payment into
// enrollment rows. The gateway transaction id is unique across the table.
type Finalization struct {
	ID                   snowflake.ID  `json:"id" gorm:"primaryKey"`
	GatewayTransactionID string        `json:"gateway_transaction_id" gorm:"type:text;not null;uniqueIndex"`
	CorrelationID        string        `json:"correlation_id" gorm:"type:text;not null"`
	PaymentSessionID     snowflake.ID  `json:"payment_session_id" gorm:"not null"`
	State                State         `json:"state" gorm:"type:text;not null"`
	MemberID             *snowflake.ID `json:"member_id,omitempty"`
	SubscriptionID       *snowflake.ID `json:"subscription_id,omitempty"`
	FailedStages         string        `json:"failed_stages" gorm:"type:text;not null"`
	CreatedAt            time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time     `json:"updated_at" gorm:"not null"`
	CompletedAt          *time.Time    `json:"completed_at,omitempty"`
}

func (Finalization) TableName() string { return "finalizations" }

func (f Finalization) FailedStageList() []string {
	if strings.TrimSpace(f.FailedStages) == "" {
		return nil
	}
	return strings.Split(f.FailedStages, ",")
}

type Status string

const (
	StatusEnrolled    Status = "enrolled"
	StatusDeclined    Status = "declined"
	StatusNeedsReview Status = "needs_review"
)

// Result is what the enrolling client and the gateway acknowledgement see.
// Post-payment repair work shows up in FailedStages only.
type Result struct {
	Status            Status        `json:"status"`
	CorrelationID     string        `json:"correlation_id"`
	TransactionID     string        `json:"transaction_id"`
	State             State         `json:"state,omitempty"`
	MemberID          *snowflake.ID `json:"member_id,omitempty"`
	CustomerNumber    string        `json:"customer_number,omitempty"`
	SubscriptionID    *snowflake.ID `json:"subscription_id,omitempty"`
	FailedStages      []string      `json:"failed_stages,omitempty"`
	AttemptsRemaining *int          `json:"attempts_remaining,omitempty"`
	Duplicate         bool          `json:"duplicate"`
}
