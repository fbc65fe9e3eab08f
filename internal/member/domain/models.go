// Package domain contains persistence models for enrolled members.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive Status = "active"
)

// Member is created only after the first payment has been verified.
type Member struct {
	ID                   snowflake.ID `json:"id" gorm:"primaryKey"`
	CustomerNumber       string       `json:"customer_number" gorm:"type:text;not null;uniqueIndex"`
	GatewayTransactionID string       `json:"gateway_transaction_id" gorm:"type:text;not null;uniqueIndex"`
	CorrelationID        string       `json:"correlation_id" gorm:"type:text;not null"`
	FirstName            string       `json:"first_name" gorm:"type:text;not null"`
	LastName             string       `json:"last_name" gorm:"type:text;not null"`
	Email                string       `json:"email" gorm:"type:text;not null"`
	Phone                string       `json:"phone"`
	DateOfBirth          string       `json:"date_of_birth"`
	AddressLine1         string       `json:"address_line1"`
	AddressLine2         string       `json:"address_line2"`
	City                 string       `json:"city"`
	State                string       `json:"state"`
	PostalCode           string       `json:"postal_code"`
	Employer             string       `json:"employer"`
	EmploymentStatus     string       `json:"employment_status"`
	PlanTier             string       `json:"plan_tier" gorm:"type:text;not null"`
	CoverageType         string       `json:"coverage_type" gorm:"type:text;not null"`
	AgentID              string       `json:"agent_id"`
	IsActive             bool         `json:"is_active" gorm:"not null"`
	Status               Status       `json:"status" gorm:"type:text;not null"`
	CreatedAt            time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time    `json:"updated_at" gorm:"not null"`
}

func (Member) TableName() string { return "members" }
