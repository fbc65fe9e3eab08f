package gateway

import "time"

type SessionRequest struct {
	CorrelationID string
	Attempt       int
	Amount        int64
	Currency      string
	CustomerEmail string
	Description   string
}

// SignedRequest is what the browser posts to the hosted payment page.
type SignedRequest struct {
	Action    string            `json:"action"`
	Fields    map[string]string `json:"fields"`
	Signature string            `json:"signature"`
}

type Session struct {
	ID            string        `json:"id"`
	HostedURL     string        `json:"hosted_url"`
	SignedRequest SignedRequest `json:"signed_request"`
}

type ChargeRequest struct {
	Reference   string
	Token       string
	Amount      int64
	Currency    string
	Description string
}

type ChargeResult struct {
	TransactionID string
	Reference     string
	Approved      bool
	ResponseCode  string
	Message       string
	Amount        int64
	Currency      string
}

// PaymentOutcome is the decoded asynchronous result of a hosted payment.
type PaymentOutcome struct {
	TransactionID string
	SessionID     string
	CorrelationID string
	Approved      bool
	ResponseCode  string
	Message       string
	Amount        int64
	Currency      string
	BillingToken  string
	OccurredAt    time.Time
}
