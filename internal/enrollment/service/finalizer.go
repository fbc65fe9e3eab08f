package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/clock"
	commissiondomain "github.com/smallbiznis/enrollment/internal/commission/domain"
	"github.com/smallbiznis/enrollment/internal/enrollment/domain"
	memberdomain "github.com/smallbiznis/enrollment/internal/member/domain"
	notificationdomain "github.com/smallbiznis/enrollment/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/enrollment/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/enrollment/internal/payment/domain"
	"github.com/smallbiznis/enrollment/internal/payment/webhook"
	registrationdomain "github.com/smallbiznis/enrollment/internal/registration/domain"
	subscriptiondomain "github.com/smallbiznis/enrollment/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type FinalizerParams struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Drafts        registrationdomain.Service
	Members       memberdomain.Service
	Subscriptions subscriptiondomain.Service
	Commissions   commissiondomain.Service
	Notifications notificationdomain.Service
	Payments      paymentdomain.Repository
	Repo          domain.Repository
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

// Finalizer turns a verified, approved payment into member, subscription,
// token and commission rows. Once the member row exists the payment is
// never reported as failed: later steps that fail are handed to an operator
// through admin notifications and the finalization ends quarantined.
type Finalizer struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	drafts        registrationdomain.Service
	members       memberdomain.Service
	subscriptions subscriptiondomain.Service
	commissions   commissiondomain.Service
	notifications notificationdomain.Service
	payments      paymentdomain.Repository
	repo          domain.Repository
	obsMetrics    *obsmetrics.Metrics
}

func NewFinalizer(p FinalizerParams) *Finalizer {
	return &Finalizer{
		db:            p.DB,
		log:           p.Log.Named("enrollment.finalizer"),
		genID:         p.GenID,
		clock:         p.Clock,
		drafts:        p.Drafts,
		members:       p.Members,
		subscriptions: p.Subscriptions,
		commissions:   p.Commissions,
		notifications: p.Notifications,
		payments:      p.Payments,
		repo:          p.Repo,
		obsMetrics:    p.ObsMetrics,
	}
}

type run struct {
	fin          *domain.Finalization
	cb           webhook.VerifiedCallback
	member       *memberdomain.Member
	subscription *subscriptiondomain.Subscription
	failed       []domain.State
}

func (r *run) fail(stage domain.State) {
	r.failed = append(r.failed, stage)
}

func (f *Finalizer) Finalize(ctx context.Context, cb webhook.VerifiedCallback) (domain.Result, error) {
	if !cb.Outcome.Approved {
		return domain.Result{}, domain.ErrNotApproved
	}

	fin, err := f.claim(ctx, cb)
	if err != nil {
		return domain.Result{}, err
	}
	if fin.State.Terminal() {
		return f.Recorded(ctx, fin)
	}

	r := &run{fin: fin, cb: cb}
	logger := f.log.With(
		zap.String("correlation_id", fin.CorrelationID),
		zap.String("transaction_id", fin.GatewayTransactionID),
	)

	if err := f.createMember(ctx, r); err != nil {
		if errors.Is(err, domain.ErrDraftMissing) {
			return f.quarantineWithoutMember(ctx, r, err)
		}
		logger.Error("enrollment.member_step_failed", zap.Error(err))
		return domain.Result{}, err
	}

	// Past this point the payment is kept whatever happens below.
	f.createSubscription(ctx, r)
	f.storeToken(ctx, r)
	f.createCommission(ctx, r)

	final := domain.StateComplete
	if len(r.failed) > 0 {
		final = domain.StateQuarantined
	}
	if err := f.repo.Finish(ctx, f.db, fin.ID, final, joinStages(r.failed), f.clock.Now().UTC()); err != nil {
		// Rows already exist; a redelivery will rerun the idempotent steps and finish.
		logger.Error("enrollment.finish_failed", zap.Error(err))
	}
	f.obsMetrics.RecordFinalization(ctx, string(final))

	logger.Info("enrollment.finalized",
		zap.String("state", string(final)),
		zap.String("member_id", r.member.ID.String()),
		zap.String("customer_number", r.member.CustomerNumber),
		zap.Strings("failed_stages", stageStrings(r.failed)),
	)

	result := domain.Result{
		Status:         domain.StatusEnrolled,
		CorrelationID:  fin.CorrelationID,
		TransactionID:  fin.GatewayTransactionID,
		State:          final,
		MemberID:       &r.member.ID,
		CustomerNumber: r.member.CustomerNumber,
		FailedStages:   stageStrings(r.failed),
	}
	if r.subscription != nil {
		result.SubscriptionID = &r.subscription.ID
	}
	return result, nil
}

// Recorded rebuilds the result of an earlier finalization for a redelivered callback.
func (f *Finalizer) Recorded(ctx context.Context, fin *domain.Finalization) (domain.Result, error) {
	result := domain.Result{
		Status:         domain.StatusEnrolled,
		CorrelationID:  fin.CorrelationID,
		TransactionID:  fin.GatewayTransactionID,
		State:          fin.State,
		MemberID:       fin.MemberID,
		SubscriptionID: fin.SubscriptionID,
		FailedStages:   fin.FailedStageList(),
		Duplicate:      true,
	}
	if fin.MemberID == nil {
		result.Status = domain.StatusNeedsReview
		return result, nil
	}
	member, err := f.members.GetByID(ctx, *fin.MemberID)
	if err != nil {
		return domain.Result{}, err
	}
	result.CustomerNumber = member.CustomerNumber
	return result, nil
}

func (f *Finalizer) claim(ctx context.Context, cb webhook.VerifiedCallback) (*domain.Finalization, error) {
	now := f.clock.Now().UTC()
	item := domain.Finalization{
		ID:                   f.genID.Generate(),
		GatewayTransactionID: cb.Outcome.TransactionID,
		CorrelationID:        cb.Session.CorrelationID,
		PaymentSessionID:     cb.Session.ID,
		State:                domain.StatePending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if _, err := f.repo.InsertIfAbsent(ctx, f.db, &item); err != nil {
		return nil, err
	}
	fin, err := f.repo.FindByTransactionID(ctx, f.db, cb.Outcome.TransactionID)
	if err != nil {
		return nil, err
	}
	if fin == nil {
		return nil, fmt.Errorf("finalization for %s vanished after claim", cb.Outcome.TransactionID)
	}
	if fin.State == domain.StatePending {
		if err := f.repo.Advance(ctx, f.db, fin.ID, domain.StatePaymentVerified, nil, nil, now); err != nil {
			return nil, err
		}
		fin.State = domain.StatePaymentVerified
	}
	return fin, nil
}

// createMember is the point of no return. It commits the member row, the
// verified payment session and the finalization progress together.
func (f *Finalizer) createMember(ctx context.Context, r *run) error {
	if r.fin.MemberID != nil {
		member, err := f.members.GetByID(ctx, *r.fin.MemberID)
		if err != nil {
			return err
		}
		r.member = &member
		return nil
	}

	draft, err := f.drafts.Retrieve(ctx, r.fin.CorrelationID)
	if err != nil {
		if !errors.Is(err, registrationdomain.ErrDraftExpired) {
			return err
		}
		// A concurrent delivery may have created the member and discarded the draft.
		member, lookupErr := f.members.GetByTransactionID(ctx, r.fin.GatewayTransactionID)
		if lookupErr == nil {
			r.member = &member
			return f.repo.Advance(ctx, f.db, r.fin.ID, domain.StateMemberCreated, &member.ID, nil, f.clock.Now().UTC())
		}
		if !errors.Is(lookupErr, memberdomain.ErrNotFound) {
			return lookupErr
		}
		return domain.ErrDraftMissing
	}

	var member memberdomain.Member
	err = f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, _, err := f.members.Create(ctx, tx, memberRequest(r.fin, r.cb.Session, draft))
		if err != nil {
			return err
		}
		member = created
		now := f.clock.Now().UTC()
		if _, err := f.payments.MarkVerified(ctx, tx, r.cb.Session.ID, r.fin.GatewayTransactionID, now); err != nil {
			return err
		}
		return f.repo.Advance(ctx, tx, r.fin.ID, domain.StateMemberCreated, &member.ID, nil, now)
	})
	if err != nil {
		return err
	}
	r.member = &member

	if err := f.drafts.Discard(ctx, r.fin.CorrelationID); err != nil {
		f.log.Warn("enrollment.draft_discard_failed",
			zap.String("correlation_id", r.fin.CorrelationID),
			zap.Error(err),
		)
	}
	return nil
}

func (f *Finalizer) quarantineWithoutMember(ctx context.Context, r *run, cause error) (domain.Result, error) {
	f.notify(ctx, r, notificationdomain.Entry{
		Stage:  notificationdomain.StageMemberCreated,
		Err:    cause,
		Detail: "payment captured but the enrollment draft expired before the member could be created",
		Metadata: map[string]any{
			"transaction_id": r.fin.GatewayTransactionID,
			"amount":         r.cb.Session.Amount,
			"currency":       r.cb.Session.Currency,
			"billing_token":  r.cb.Outcome.BillingToken,
		},
	})

	failed := []domain.State{domain.StateMemberCreated}
	if err := f.repo.Finish(ctx, f.db, r.fin.ID, domain.StateQuarantined, joinStages(failed), f.clock.Now().UTC()); err != nil {
		return domain.Result{}, err
	}
	f.obsMetrics.RecordFinalization(ctx, string(domain.StateQuarantined))

	return domain.Result{
		Status:        domain.StatusNeedsReview,
		CorrelationID: r.fin.CorrelationID,
		TransactionID: r.fin.GatewayTransactionID,
		State:         domain.StateQuarantined,
		FailedStages:  stageStrings(failed),
	}, nil
}

func (f *Finalizer) createSubscription(ctx context.Context, r *run) {
	sub, err := f.subscriptions.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		MemberID:     r.member.ID,
		PlanTier:     r.member.PlanTier,
		CoverageType: r.member.CoverageType,
		Amount:       r.cb.Session.Amount,
		Currency:     r.cb.Session.Currency,
	})
	if err != nil {
		r.fail(domain.StateSubscriptionCreated)
		f.notify(ctx, r, notificationdomain.Entry{
			Stage:  notificationdomain.StageSubscriptionCreated,
			Err:    err,
			Detail: "member enrolled without a subscription",
			Metadata: map[string]any{
				"plan_tier":      r.member.PlanTier,
				"coverage_type":  r.member.CoverageType,
				"amount":         r.cb.Session.Amount,
				"currency":       r.cb.Session.Currency,
				"billing_token":  r.cb.Outcome.BillingToken,
				"transaction_id": r.fin.GatewayTransactionID,
			},
		})
		return
	}
	r.subscription = &sub
	f.advance(ctx, r, domain.StateSubscriptionCreated, &sub.ID)
}

// storeToken attaches the billing token to the new subscription. Without a
// subscription the token already travels in the subscription notification, so
// the stage is only marked failed.
func (f *Finalizer) storeToken(ctx context.Context, r *run) {
	if r.subscription == nil {
		r.fail(domain.StateTokenStored)
		return
	}

	token := r.cb.Outcome.BillingToken
	var cause error
	switch {
	case token == "":
		cause = errors.New("gateway callback carried no billing token")
	default:
		if _, err := f.subscriptions.StoreToken(ctx, r.subscription.ID, token); err != nil {
			cause = err
		}
	}
	if cause == nil {
		f.advance(ctx, r, domain.StateTokenStored, nil)
		return
	}

	r.fail(domain.StateTokenStored)
	f.notify(ctx, r, notificationdomain.Entry{
		Stage:  notificationdomain.StageTokenStored,
		Err:    cause,
		Detail: "recurring billing token not stored",
		Metadata: map[string]any{
			"billing_token":  token,
			"transaction_id": r.fin.GatewayTransactionID,
		},
	})
}

// createCommission pays the enrolling agent. An enrollment with no agent still
// completes, but operators are told that no commission was written.
func (f *Finalizer) createCommission(ctx context.Context, r *run) {
	if strings.TrimSpace(r.member.AgentID) == "" {
		f.notify(ctx, r, notificationdomain.Entry{
			Stage:  notificationdomain.StageCommissionCreated,
			Detail: "no agent id on enrollment; commission not recorded",
			Metadata: map[string]any{
				"plan_tier":     r.member.PlanTier,
				"coverage_type": r.member.CoverageType,
			},
		})
		return
	}
	_, err := f.commissions.Create(ctx, commissiondomain.CreateCommissionRequest{
		AgentID:      r.member.AgentID,
		MemberID:     r.member.ID,
		PlanTier:     r.member.PlanTier,
		CoverageType: r.member.CoverageType,
	})
	if err == nil {
		f.advance(ctx, r, domain.StateCommissionCreated, nil)
		return
	}

	detail := "commission not recorded"
	if errors.Is(err, commissiondomain.ErrRateNotFound) {
		detail = "no commission rate for plan tier and coverage type"
	}
	r.fail(domain.StateCommissionCreated)
	f.notify(ctx, r, notificationdomain.Entry{
		Stage:  notificationdomain.StageCommissionCreated,
		Err:    err,
		Detail: detail,
		Metadata: map[string]any{
			"agent_id":      r.member.AgentID,
			"plan_tier":     r.member.PlanTier,
			"coverage_type": r.member.CoverageType,
		},
	})
}

func (f *Finalizer) advance(ctx context.Context, r *run, state domain.State, subscriptionID *snowflake.ID) {
	if err := f.repo.Advance(ctx, f.db, r.fin.ID, state, nil, subscriptionID, f.clock.Now().UTC()); err != nil {
		f.log.Warn("enrollment.advance_failed",
			zap.String("transaction_id", r.fin.GatewayTransactionID),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
}

// notify never fails the finalization; an unrecorded notification is logged instead.
func (f *Finalizer) notify(ctx context.Context, r *run, entry notificationdomain.Entry) {
	entry.CorrelationID = r.fin.CorrelationID
	if r.member != nil {
		entry.MemberID = &r.member.ID
	}
	if r.subscription != nil {
		entry.SubscriptionID = &r.subscription.ID
	}
	if _, err := f.notifications.Record(ctx, entry); err != nil {
		f.log.Error("enrollment.notification_failed",
			zap.String("correlation_id", r.fin.CorrelationID),
			zap.String("stage", string(entry.Stage)),
			zap.NamedError("cause", entry.Err),
			zap.Error(err),
		)
	}
}

// memberRequest takes personal details from the draft and the plan from the
// paid session, so a draft restaged after checkout cannot change the plan.
func memberRequest(fin *domain.Finalization, session paymentdomain.PaymentSession, draft registrationdomain.Draft) memberdomain.CreateMemberRequest {
	planTier, coverageType := draft.PlanTier, draft.CoverageType
	if session.PlanTier != "" && session.CoverageType != "" {
		planTier, coverageType = session.PlanTier, session.CoverageType
	}
	return memberdomain.CreateMemberRequest{
		GatewayTransactionID: fin.GatewayTransactionID,
		CorrelationID:        fin.CorrelationID,
		FirstName:            draft.FirstName,
		LastName:             draft.LastName,
		Email:                draft.Email,
		Phone:                draft.Phone,
		DateOfBirth:          draft.DateOfBirth,
		AddressLine1:         draft.Address.Line1,
		AddressLine2:         draft.Address.Line2,
		City:                 draft.Address.City,
		State:                draft.Address.State,
		PostalCode:           draft.Address.PostalCode,
		Employer:             draft.Employer,
		EmploymentStatus:     draft.EmploymentStatus,
		PlanTier:             planTier,
		CoverageType:         coverageType,
		AgentID:              draft.AgentID,
	}
}

func joinStages(stages []domain.State) string {
	return strings.Join(stageStrings(stages), ",")
}

func stageStrings(stages []domain.State) []string {
	if len(stages) == 0 {
		return nil
	}
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, string(s))
	}
	return out
}
