package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/gateway"
	obsmetrics "github.com/smallbiznis/enrollment/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/enrollment/internal/payment/domain"
	"github.com/smallbiznis/enrollment/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionGateway opens hosted payment sessions.
type SessionGateway interface {
	CreateSession(ctx context.Context, req gateway.SessionRequest) (gateway.Session, error)
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Gateway    SessionGateway
	Repo       paymentdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	gateway     SessionGateway
	repo        paymentdomain.Repository
	obsMetrics  *obsmetrics.Metrics
	maxAttempts int
}

func NewService(p Params) paymentdomain.Service {
	maxAttempts := p.Cfg.Enrollment.MaxPaymentAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		gateway:     p.Gateway,
		repo:        p.Repo,
		obsMetrics:  p.ObsMetrics,
		maxAttempts: maxAttempts,
	}
}

// StartSession records a new attempt and opens a hosted session for it. A
// gateway failure consumes the attempt.
func (s *Service) StartSession(ctx context.Context, req paymentdomain.StartSessionRequest) (paymentdomain.StartSessionResult, error) {
	req.CorrelationID = strings.TrimSpace(req.CorrelationID)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.CorrelationID == "" || req.Amount <= 0 || req.Currency == "" {
		return paymentdomain.StartSessionResult{}, paymentdomain.ErrInvalidRequest
	}

	used, err := s.repo.CountAttempts(ctx, s.db, req.CorrelationID)
	if err != nil {
		return paymentdomain.StartSessionResult{}, err
	}
	if used >= s.maxAttempts {
		s.obsMetrics.RecordPaymentSession(ctx, "exhausted")
		return paymentdomain.StartSessionResult{}, paymentdomain.ErrAttemptsExhausted
	}

	now := s.clock.Now()
	session := paymentdomain.PaymentSession{
		ID:            s.genID.Generate(),
		CorrelationID: req.CorrelationID,
		Attempt:       used + 1,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PlanTier:      strings.TrimSpace(req.PlanTier),
		CoverageType:  strings.TrimSpace(req.CoverageType),
		Status:        paymentdomain.SessionStatusInitiated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, &session); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return paymentdomain.StartSessionResult{}, paymentdomain.ErrConcurrentAttempt
		}
		return paymentdomain.StartSessionResult{}, err
	}

	remaining := s.maxAttempts - session.Attempt
	gwSession, err := s.gateway.CreateSession(ctx, gateway.SessionRequest{
		CorrelationID: session.CorrelationID,
		Attempt:       session.Attempt,
		Amount:        session.Amount,
		Currency:      session.Currency,
		CustomerEmail: req.CustomerEmail,
		Description:   req.Description,
	})
	if err != nil {
		reason := "gateway_session_failed: " + err.Error()
		if _, markErr := s.repo.MarkRejected(ctx, s.db, session.ID, nil, reason, s.clock.Now()); markErr != nil {
			s.log.Error("failed to record rejected session", zap.String("session_id", session.ID.String()), zap.Error(markErr))
		}
		s.log.Warn("payment.session.gateway_failed",
			zap.String("correlation_id", session.CorrelationID),
			zap.Int("attempt", session.Attempt),
			zap.Error(err),
		)
		s.obsMetrics.RecordPaymentSession(ctx, "gateway_failed")
		return paymentdomain.StartSessionResult{AttemptsRemaining: remaining}, fmt.Errorf("%w: %v", paymentdomain.ErrGatewayFailed, err)
	}

	if err := s.repo.AttachGatewaySession(ctx, s.db, session.ID, gwSession.ID, s.clock.Now()); err != nil {
		return paymentdomain.StartSessionResult{}, err
	}
	gwID := gwSession.ID
	session.GatewaySessionID = &gwID

	s.log.Info("payment.session.started",
		zap.String("correlation_id", session.CorrelationID),
		zap.String("session_id", session.ID.String()),
		zap.String("gateway_session_id", gwID),
		zap.Int("attempt", session.Attempt),
	)
	s.obsMetrics.RecordPaymentSession(ctx, "started")

	return paymentdomain.StartSessionResult{
		Session:          session,
		GatewaySessionID: gwID,
		HostedURL:        gwSession.HostedURL,
		SignedRequest: paymentdomain.SignedRequest{
			Action:    gwSession.SignedRequest.Action,
			Fields:    gwSession.SignedRequest.Fields,
			Signature: gwSession.SignedRequest.Signature,
		},
		AttemptsRemaining: remaining,
	}, nil
}

// Reject closes a session after a declined callback and reports whether the
// correlation id has used up its attempts.
func (s *Service) Reject(ctx context.Context, session paymentdomain.PaymentSession, transactionID string, reason string) (paymentdomain.RejectResult, error) {
	var txn *string
	if transactionID = strings.TrimSpace(transactionID); transactionID != "" {
		txn = &transactionID
	}
	rejected, err := s.repo.MarkRejected(ctx, s.db, session.ID, txn, reason, s.clock.Now())
	if err != nil {
		return paymentdomain.RejectResult{}, err
	}

	used, err := s.repo.CountAttempts(ctx, s.db, session.CorrelationID)
	if err != nil {
		return paymentdomain.RejectResult{}, err
	}
	failed, err := s.repo.CountRejected(ctx, s.db, session.CorrelationID)
	if err != nil {
		return paymentdomain.RejectResult{}, err
	}

	remaining := s.maxAttempts - used
	if remaining < 0 {
		remaining = 0
	}
	result := paymentdomain.RejectResult{
		Rejected:          rejected,
		AttemptsUsed:      used,
		AttemptsRemaining: remaining,
		Exhausted:         failed >= s.maxAttempts,
	}
	if rejected {
		s.log.Info("payment.session.rejected",
			zap.String("correlation_id", session.CorrelationID),
			zap.String("session_id", session.ID.String()),
			zap.String("reason", reason),
			zap.Int("attempts_used", used),
		)
		s.obsMetrics.RecordPaymentSession(ctx, "rejected")
	}
	return result, nil
}

func (s *Service) Exhausted(ctx context.Context, correlationID string) (bool, error) {
	failed, err := s.repo.CountRejected(ctx, s.db, strings.TrimSpace(correlationID))
	if err != nil {
		return false, err
	}
	return failed >= s.maxAttempts, nil
}
