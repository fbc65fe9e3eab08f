package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/smallbiznis/enrollment/internal/enrollment/domain"
	paymentdomain "github.com/smallbiznis/enrollment/internal/payment/domain"
	"github.com/smallbiznis/enrollment/internal/payment/webhook"
	registrationdomain "github.com/smallbiznis/enrollment/internal/registration/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CallbackVerifier authenticates gateway callbacks.
type CallbackVerifier interface {
	Verify(ctx context.Context, raw []byte, headers http.Header) (webhook.VerifiedCallback, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Drafts    registrationdomain.Service
	Payments  paymentdomain.Service
	Verifier  CallbackVerifier
	Finalizer *Finalizer
}

type Service struct {
	log       *zap.Logger
	drafts    registrationdomain.Service
	payments  paymentdomain.Service
	verifier  CallbackVerifier
	finalizer *Finalizer
}

func NewService(p Params) domain.Service {
	return &Service{
		log:       p.Log.Named("enrollment.service"),
		drafts:    p.Drafts,
		payments:  p.Payments,
		verifier:  p.Verifier,
		finalizer: p.Finalizer,
	}
}

func (s *Service) SubmitDraft(ctx context.Context, draft registrationdomain.Draft) (registrationdomain.Draft, error) {
	return s.drafts.Stage(ctx, draft)
}

// StartPayment opens the next hosted payment attempt for a staged draft.
// Running out of attempts discards the draft so the prospect has to start over.
func (s *Service) StartPayment(ctx context.Context, correlationID string) (domain.PaymentSessionResponse, error) {
	draft, err := s.drafts.Retrieve(ctx, correlationID)
	if err != nil {
		return domain.PaymentSessionResponse{}, err
	}

	res, err := s.payments.StartSession(ctx, paymentdomain.StartSessionRequest{
		CorrelationID: draft.CorrelationID,
		Amount:        draft.Amount,
		Currency:      draft.Currency,
		PlanTier:      draft.PlanTier,
		CoverageType:  draft.CoverageType,
		CustomerEmail: draft.Email,
		Description:   fmt.Sprintf("%s / %s", draft.PlanTier, draft.CoverageType),
	})
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrAttemptsExhausted):
			s.discard(ctx, draft.CorrelationID)
		case errors.Is(err, paymentdomain.ErrGatewayFailed):
			if exhausted, exErr := s.payments.Exhausted(ctx, draft.CorrelationID); exErr == nil && exhausted {
				s.discard(ctx, draft.CorrelationID)
			}
		}
		return domain.PaymentSessionResponse{}, err
	}

	return domain.PaymentSessionResponse{
		SessionID:         res.Session.ID.String(),
		GatewaySessionID:  res.GatewaySessionID,
		HostedURL:         res.HostedURL,
		SignedRequest:     res.SignedRequest,
		Attempt:           res.Session.Attempt,
		AttemptsRemaining: res.AttemptsRemaining,
	}, nil
}

// HandleCallback processes one gateway callback end to end. Redeliveries get
// the recorded outcome back without touching any rows.
func (s *Service) HandleCallback(ctx context.Context, raw []byte, headers http.Header) (domain.Result, error) {
	cb, err := s.verifier.Verify(ctx, raw, headers)
	if err != nil {
		return domain.Result{}, err
	}

	if cb.Duplicate {
		if cb.Previous != nil {
			return s.finalizer.Recorded(ctx, cb.Previous)
		}
		return domain.Result{
			Status:        domain.StatusDeclined,
			CorrelationID: cb.Session.CorrelationID,
			TransactionID: cb.Outcome.TransactionID,
			Duplicate:     true,
		}, nil
	}

	if !cb.Outcome.Approved {
		return s.decline(ctx, cb)
	}
	return s.finalizer.Finalize(ctx, cb)
}

func (s *Service) decline(ctx context.Context, cb webhook.VerifiedCallback) (domain.Result, error) {
	reason := "declined"
	if cb.Outcome.ResponseCode != "" {
		reason = "declined:" + cb.Outcome.ResponseCode
	}
	res, err := s.payments.Reject(ctx, cb.Session, cb.Outcome.TransactionID, reason)
	if err != nil {
		return domain.Result{}, err
	}
	if res.Exhausted {
		s.discard(ctx, cb.Session.CorrelationID)
	}

	s.log.Info("enrollment.payment_declined",
		zap.String("correlation_id", cb.Session.CorrelationID),
		zap.String("transaction_id", cb.Outcome.TransactionID),
		zap.String("response_code", cb.Outcome.ResponseCode),
		zap.Int("attempts_remaining", res.AttemptsRemaining),
		zap.Bool("exhausted", res.Exhausted),
	)

	remaining := res.AttemptsRemaining
	return domain.Result{
		Status:            domain.StatusDeclined,
		CorrelationID:     cb.Session.CorrelationID,
		TransactionID:     cb.Outcome.TransactionID,
		AttemptsRemaining: &remaining,
		Duplicate:         !res.Rejected,
	}, nil
}

func (s *Service) discard(ctx context.Context, correlationID string) {
	if err := s.drafts.Discard(ctx, correlationID); err != nil {
		s.log.Warn("enrollment.draft_discard_failed",
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
		return
	}
	s.log.Info("enrollment.draft_discarded", zap.String("correlation_id", correlationID))
}
