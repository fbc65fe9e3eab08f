package domain

import (
	"context"
	"errors"
)

type Service interface {
	Stage(ctx context.Context, draft Draft) (Draft, error)
	Retrieve(ctx context.Context, correlationID string) (Draft, error)
	Discard(ctx context.Context, correlationID string) error
}

var (
	ErrDraftExpired         = errors.New("draft_expired")
	ErrInvalidCorrelationID = errors.New("invalid_correlation_id")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidEmail         = errors.New("invalid_email")
	ErrInvalidAddress       = errors.New("invalid_address")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrConsentRequired      = errors.New("consent_required")
)
