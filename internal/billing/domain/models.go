// Package domain holds the records the recurring billing run keeps per
// subscription period.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ClaimStatus string

const (
	ClaimStatusOpen      ClaimStatus = "open"
	ClaimStatusInFlight  ClaimStatus = "in_flight"
	ClaimStatusUnknown   ClaimStatus = "unknown"
	ClaimStatusTransient ClaimStatus = "transient"
	ClaimStatusDeclined  ClaimStatus = "declined"
	ClaimStatusSucceeded ClaimStatus = "succeeded"
)

// PeriodClaim guards one (subscription, period start) pair so a period is
// charged by at most one worker and paid at most once.
type PeriodClaim struct {
	SubscriptionID snowflake.ID `json:"subscription_id" gorm:"primaryKey"`
	PeriodStart    time.Time    `json:"period_start" gorm:"primaryKey"`
	Status         ClaimStatus  `json:"status" gorm:"type:text;not null"`
	Attempt        int          `json:"attempt" gorm:"not null"`
	Reference      string       `json:"reference" gorm:"type:text;not null"`
	ClaimedAt      *time.Time   `json:"claimed_at,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"not null"`
}

func (PeriodClaim) TableName() string { return "billing_period_claims" }

type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeDeclined  Outcome = "declined"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeTransient Outcome = "transient"
	OutcomeNoToken   Outcome = "no_token"
)

// ChargeLog is one row per billing attempt, whatever its outcome.
type ChargeLog struct {
	ID                   snowflake.ID `json:"id" gorm:"primaryKey"`
	SubscriptionID       snowflake.ID `json:"subscription_id" gorm:"not null"`
	PeriodStart          time.Time    `json:"period_start" gorm:"not null"`
	Attempt              int          `json:"attempt" gorm:"not null"`
	Amount               int64        `json:"amount" gorm:"not null"`
	Currency             string       `json:"currency" gorm:"type:text;not null"`
	Outcome              Outcome      `json:"outcome" gorm:"type:text;not null"`
	GatewayTransactionID string       `json:"gateway_transaction_id" gorm:"type:text;not null"`
	Reference            string       `json:"reference" gorm:"type:text;not null"`
	Detail               string       `json:"detail" gorm:"type:text;not null"`
	CreatedAt            time.Time    `json:"created_at" gorm:"not null"`
}

func (ChargeLog) TableName() string { return "recurring_billing_logs" }
