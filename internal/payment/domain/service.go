package domain

import (
	"context"
	"errors"
)

type StartSessionRequest struct {
	CorrelationID string
	Amount        int64
	Currency      string
	// PlanTier and CoverageType are the plan being paid for; finalization
	// enrolls this plan even if the draft is restaged afterwards.
	PlanTier      string
	CoverageType  string
	CustomerEmail string
	Description   string
}

type StartSessionResult struct {
	Session           PaymentSession
	GatewaySessionID  string
	HostedURL         string
	SignedRequest     SignedRequest
	AttemptsRemaining int
}

type SignedRequest struct {
	Action    string            `json:"action"`
	Fields    map[string]string `json:"fields"`
	Signature string            `json:"signature"`
}

type RejectResult struct {
	Rejected          bool
	AttemptsUsed      int
	AttemptsRemaining int
	Exhausted         bool
}

type Service interface {
	StartSession(ctx context.Context, req StartSessionRequest) (StartSessionResult, error)
	Reject(ctx context.Context, session PaymentSession, transactionID string, reason string) (RejectResult, error)
	Exhausted(ctx context.Context, correlationID string) (bool, error)
}

var (
	ErrAttemptsExhausted = errors.New("payment_attempts_exhausted")
	ErrConcurrentAttempt = errors.New("concurrent_payment_attempt")
	ErrGatewayFailed     = errors.New("payment_gateway_failed")
	ErrInvalidRequest    = errors.New("invalid_payment_request")
	ErrSessionNotFound   = errors.New("payment_session_not_found")
	ErrAmountMismatch    = errors.New("payment_amount_mismatch")
	ErrInvalidSignature  = errors.New("invalid_signature")
	ErrInvalidPayload    = errors.New("invalid_payload")
)
