package domain

import "time"

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

type Consents struct {
	Terms            bool `json:"terms"`
	ESignature       bool `json:"e_signature"`
	RecurringBilling bool `json:"recurring_billing"`
}

// Draft is the prospect's captured enrollment form. It only ever lives in
// the staging store; nothing here implies a member exists.
type Draft struct {
	CorrelationID    string    `json:"correlation_id"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone,omitempty"`
	DateOfBirth      string    `json:"date_of_birth,omitempty"`
	Address          Address   `json:"address"`
	Employer         string    `json:"employer,omitempty"`
	EmploymentStatus string    `json:"employment_status,omitempty"`
	PlanTier         string    `json:"plan_tier"`
	CoverageType     string    `json:"coverage_type"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	AgentID          string    `json:"agent_id,omitempty"`
	Consents         Consents  `json:"consents"`
	StagedAt         time.Time `json:"staged_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}
