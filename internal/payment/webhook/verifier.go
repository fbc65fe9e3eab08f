package webhook

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	enrollmentdomain "github.com/smallbiznis/enrollment/internal/enrollment/domain"
	"github.com/smallbiznis/enrollment/internal/gateway"
	obsmetrics "github.com/smallbiznis/enrollment/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/enrollment/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const SignatureHeader = gateway.CallbackSignatureHeader

// VerifiedCallback is a gateway callback that passed the signature and
// idempotency checks. Duplicate callbacks carry the earlier outcome instead
// of being processed again.
type VerifiedCallback struct {
	Outcome   gateway.PaymentOutcome
	Session   paymentdomain.PaymentSession
	Raw       []byte
	Duplicate bool
	Previous  *enrollmentdomain.Finalization
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Cfg           config.Config
	Signer        *gateway.Signer
	Repo          paymentdomain.Repository
	Finalizations enrollmentdomain.Repository
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Verifier struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	route         string
	signer        *gateway.Signer
	repo          paymentdomain.Repository
	finalizations enrollmentdomain.Repository
	obsMetrics    *obsmetrics.Metrics
}

func NewVerifier(p Params) *Verifier {
	route := strings.TrimSpace(p.Cfg.Gateway.CallbackRoute)
	if route == "" {
		route = "/v1/gateway/callback"
	}
	return &Verifier{
		db:            p.DB,
		log:           p.Log.Named("payment.webhook"),
		clock:         p.Clock,
		route:         route,
		signer:        p.Signer,
		repo:          p.Repo,
		finalizations: p.Finalizations,
		obsMetrics:    p.ObsMetrics,
	}
}

// Verify authenticates a raw callback body and resolves it against the
// payment session it claims to settle. Nothing is written before the
// signature has been checked.
func (v *Verifier) Verify(ctx context.Context, raw []byte, headers http.Header) (VerifiedCallback, error) {
	signature := headers.Get(SignatureHeader)
	if v.signer == nil || !v.signer.Verify(v.route, raw, signature) {
		v.obsMetrics.RecordCallback(ctx, "invalid_signature")
		v.log.Warn("payment.callback.invalid_signature", zap.Int("body_bytes", len(raw)))
		return VerifiedCallback{}, paymentdomain.ErrInvalidSignature
	}

	outcome, err := gateway.DecodeCallback(raw)
	if err != nil {
		v.obsMetrics.RecordCallback(ctx, "invalid_payload")
		return VerifiedCallback{}, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
	}

	session, err := v.repo.FindByGatewaySessionID(ctx, v.db, outcome.SessionID)
	if err != nil {
		return VerifiedCallback{}, err
	}
	if session == nil {
		v.obsMetrics.RecordCallback(ctx, "unknown_session")
		return VerifiedCallback{}, paymentdomain.ErrSessionNotFound
	}
	if outcome.CorrelationID != "" && outcome.CorrelationID != session.CorrelationID {
		v.obsMetrics.RecordCallback(ctx, "invalid_payload")
		return VerifiedCallback{}, fmt.Errorf("%w: correlation id does not match session", paymentdomain.ErrInvalidPayload)
	}
	if outcome.CorrelationID == "" {
		outcome.CorrelationID = session.CorrelationID
	}
	if outcome.Amount != session.Amount || !strings.EqualFold(outcome.Currency, session.Currency) {
		v.obsMetrics.RecordCallback(ctx, "amount_mismatch")
		v.log.Warn("payment.callback.amount_mismatch",
			zap.String("correlation_id", session.CorrelationID),
			zap.String("transaction_id", outcome.TransactionID),
			zap.Int64("expected_amount", session.Amount),
			zap.Int64("amount", outcome.Amount),
		)
		return VerifiedCallback{}, paymentdomain.ErrAmountMismatch
	}

	verified := VerifiedCallback{
		Outcome: outcome,
		Session: *session,
		Raw:     raw,
	}

	previous, err := v.finalizations.FindByTransactionID(ctx, v.db, outcome.TransactionID)
	if err != nil {
		return VerifiedCallback{}, err
	}
	if previous != nil && previous.State.Terminal() {
		verified.Duplicate = true
		verified.Previous = previous
		v.obsMetrics.RecordCallback(ctx, "duplicate")
		v.log.Info("payment.callback.duplicate",
			zap.String("correlation_id", session.CorrelationID),
			zap.String("transaction_id", outcome.TransactionID),
			zap.String("state", string(previous.State)),
		)
		return verified, nil
	}

	if !outcome.Approved && session.Status == paymentdomain.SessionStatusRejected {
		verified.Duplicate = true
		v.obsMetrics.RecordCallback(ctx, "duplicate")
		return verified, nil
	}

	if _, err := v.repo.MarkCallbackReceived(ctx, v.db, session.ID, outcome.TransactionID, raw, v.clock.Now().UTC()); err != nil {
		v.log.Error("payment.callback.mark_received_failed", zap.Error(err))
		return VerifiedCallback{}, err
	}

	v.obsMetrics.RecordCallback(ctx, "accepted")
	return verified, nil
}
