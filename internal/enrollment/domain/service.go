package domain

import (
	"context"
	"errors"
	"net/http"

	paymentdomain "github.com/smallbiznis/enrollment/internal/payment/domain"
	registrationdomain "github.com/smallbiznis/enrollment/internal/registration/domain"
)

type PaymentSessionResponse struct {
	SessionID         string                      `json:"session_id"`
	GatewaySessionID  string                      `json:"gateway_session_id"`
	HostedURL         string                      `json:"hosted_url"`
	SignedRequest     paymentdomain.SignedRequest `json:"signed_request"`
	Attempt           int                         `json:"attempt"`
	AttemptsRemaining int                         `json:"attempts_remaining"`
}

type Service interface {
	SubmitDraft(ctx context.Context, draft registrationdomain.Draft) (registrationdomain.Draft, error)
	StartPayment(ctx context.Context, correlationID string) (PaymentSessionResponse, error)
	HandleCallback(ctx context.Context, raw []byte, headers http.Header) (Result, error)
}

var (
	ErrDraftMissing = errors.New("draft_missing_after_payment")
	ErrNotApproved  = errors.New("payment_not_approved")
)
