package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/billing/domain"
	"github.com/smallbiznis/enrollment/internal/billing/guard"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/gateway"
	"github.com/smallbiznis/enrollment/internal/lock"
	notificationdomain "github.com/smallbiznis/enrollment/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/enrollment/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/enrollment/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const jobChargeDue = "charge_due"

var ErrInvalidConfig = errors.New("invalid_billing_config")

// Charger is the part of the gateway client the billing run needs.
type Charger interface {
	ChargeToken(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error)
	QueryCharge(ctx context.Context, reference string) (gateway.ChargeResult, error)
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        Config `optional:"true"`
	Repo          domain.Repository
	Subscriptions subscriptiondomain.Service
	Notifications notificationdomain.Service
	Charger       Charger
	Locker        *lock.Locker        `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	repo          domain.Repository
	subscriptions subscriptiondomain.Service
	notifications notificationdomain.Service
	charger       Charger
	locker        *lock.Locker
	obsMetrics    *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil ||
		p.Subscriptions == nil || p.Notifications == nil || p.Charger == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("billing").With(zap.String("component", "billing")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		subscriptions: p.Subscriptions,
		notifications: p.Notifications,
		charger:       p.Charger,
		locker:        p.Locker,
		obsMetrics:    p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil {
			if _, errCount := run.counts(); errCount == 0 {
				run.IncError()
			}
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("billing.job.timeout",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce charges every subscription that is due at the current time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, jobChargeDue, s.cfg.BatchSize, s.cfg.JobTimeout, s.ChargeDueJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if runLag := time.Since(nextRun); runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("billing.run.failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ChargeDueJob pages through due subscriptions and bills each one on the
// worker pool. A failure on one subscription is logged and joined into the
// result; it never stops the others.
func (s *Scheduler) ChargeDueJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobChargeDue, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	now := s.clock.Now().UTC()
	schedMetrics := obsmetrics.Scheduler()

	var (
		mu     sync.Mutex
		jobErr error
		after  snowflake.ID
	)
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		subs, err := s.subscriptions.ListDue(ctx, now, after, s.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(subs) == 0 {
			return jobErr
		}

		var g errgroup.Group
		g.SetLimit(s.cfg.Workers)
		for _, sub := range subs {
			g.Go(func() error {
				if err := s.billSubscription(ctx, sub, now); err != nil {
					s.logBillingError(ctx, "billing.subscription.failed", sub, err)
					mu.Lock()
					jobErr = errors.Join(jobErr, fmt.Errorf("subscription %s: %w", sub.ID, err))
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		run.AddProcessed(len(subs))
		schedMetrics.AddBatchProcessed(jobChargeDue, "subscription", len(subs))

		if len(subs) < s.cfg.BatchSize {
			return jobErr
		}
		after = subs[len(subs)-1].ID
	}
}

type periodCharge struct {
	sub         subscriptiondomain.Subscription
	periodStart time.Time
	attempt     int
	reference   string
}

func (s *Scheduler) billSubscription(ctx context.Context, sub subscriptiondomain.Subscription, now time.Time) error {
	if err := guard.EnsureSubscriptionBillable(sub.Status, sub.NextBillAt, now); err != nil {
		return nil
	}
	periodStart := sub.NextBillAt.UTC()
	schedMetrics := obsmetrics.Scheduler()

	lockKey := fmt.Sprintf("billing:claim:%s:%s", sub.ID, periodStart.Format("20060102"))
	token, acquired, err := s.locker.TryLock(ctx, lockKey, s.cfg.ClaimLease)
	if err != nil {
		s.logger(ctx).Warn("billing.lock.unavailable", zap.String("subscription_id", sub.ID.String()), zap.Error(err))
		acquired = true
	}
	if !acquired {
		schedMetrics.IncBatchDeferred(jobChargeDue, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		return nil
	}
	defer func() {
		if token != "" {
			_ = s.locker.Release(context.WithoutCancel(ctx), lockKey, token)
		}
	}()

	charge, reconcile, err := s.claimPeriod(ctx, sub, periodStart, now)
	switch {
	case errors.Is(err, guard.ErrClaimSettled):
		// The charge went through but the period was not advanced.
		_, err := s.subscriptions.RecordPayment(ctx, sub.ID, sub.CurrentPeriodStart.UTC())
		return err
	case errors.Is(err, guard.ErrClaimHeld):
		schedMetrics.IncBatchDeferred(jobChargeDue, obsmetrics.SchedulerBatchDeferredReasonClaimHeld)
		return nil
	case errors.Is(err, guard.ErrRetryNotDue):
		return nil
	case err != nil:
		return err
	}

	if reconcile {
		done, err := s.reconcile(ctx, charge)
		if done || err != nil {
			return err
		}
	}

	paymentToken, err := s.subscriptions.GetToken(ctx, sub.ID)
	if errors.Is(err, subscriptiondomain.ErrTokenNotFound) {
		return s.recordNoToken(ctx, charge)
	}
	if err != nil {
		return errors.Join(err, s.setClaim(ctx, charge, domain.ClaimStatusTransient))
	}

	return s.charge(ctx, charge, paymentToken.Token)
}

// claimPeriod takes the period claim for this worker. Another worker that
// observed the same claim state loses the compare-and-set and reports ErrClaimHeld.
func (s *Scheduler) claimPeriod(ctx context.Context, sub subscriptiondomain.Subscription, periodStart, now time.Time) (periodCharge, bool, error) {
	if err := s.repo.EnsureClaim(ctx, s.db, sub.ID, periodStart, now); err != nil {
		return periodCharge{}, false, err
	}
	claim, err := s.repo.FindClaim(ctx, s.db, sub.ID, periodStart)
	if err != nil {
		return periodCharge{}, false, err
	}
	if claim == nil {
		return periodCharge{}, false, guard.ErrClaimHeld
	}
	if err := guard.EnsureClaimChargeable(*claim, now, s.cfg.ClaimLease, s.cfg.RetryInterval); err != nil {
		return periodCharge{}, false, err
	}

	claim.PeriodStart = periodStart
	attempt, reconcile := guard.NextAttempt(*claim)
	reference := claim.Reference
	if reference == "" || attempt != claim.Attempt {
		reference = chargeReference(sub.ID, periodStart, attempt)
	}
	taken, err := s.repo.TakeClaim(ctx, s.db, *claim, attempt, reference, now.Add(-s.cfg.ClaimLease), now)
	if err != nil {
		return periodCharge{}, false, err
	}
	if !taken {
		return periodCharge{}, false, guard.ErrClaimHeld
	}
	return periodCharge{
		sub:         sub,
		periodStart: periodStart,
		attempt:     attempt,
		reference:   reference,
	}, reconcile, nil
}

// chargeReference is the gateway idempotency key for one attempt at one period.
func chargeReference(subscriptionID snowflake.ID, periodStart time.Time, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", subscriptionID, periodStart.UTC().Format("20060102"), attempt)
}

// reconcile resolves an attempt whose outcome was never observed. It reports
// true when the attempt is settled and no new charge should be sent.
func (s *Scheduler) reconcile(ctx context.Context, charge periodCharge) (bool, error) {
	result, err := s.charger.QueryCharge(ctx, charge.reference)
	switch {
	case err == nil && result.Approved:
		return true, s.recordApproved(ctx, charge, result)
	case err == nil:
		return true, s.recordDeclined(ctx, charge, result)
	case errors.Is(err, gateway.ErrTransactionNotFound):
		s.logger(ctx).Info("billing.reconcile.not_found",
			zap.String("subscription_id", charge.sub.ID.String()),
			zap.String("reference", charge.reference),
		)
		return false, nil
	}

	s.logger(ctx).Warn("billing.reconcile.unresolved",
		zap.String("subscription_id", charge.sub.ID.String()),
		zap.String("reference", charge.reference),
		zap.Error(err),
	)
	subID := charge.sub.ID
	memberID := charge.sub.MemberID
	s.notify(ctx, notificationdomain.Entry{
		MemberID:       &memberID,
		SubscriptionID: &subID,
		Stage:          notificationdomain.StageBillingReconcile,
		Err:            err,
		Metadata: map[string]any{
			"reference":    charge.reference,
			"period_start": charge.periodStart,
		},
		DedupeKey: "billing_reconcile:" + charge.reference,
	})
	return true, s.setClaim(ctx, charge, domain.ClaimStatusUnknown)
}

func (s *Scheduler) charge(ctx context.Context, charge periodCharge, token string) error {
	chargeCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout)
	defer cancel()

	result, err := s.charger.ChargeToken(chargeCtx, gateway.ChargeRequest{
		Reference:   charge.reference,
		Token:       token,
		Amount:      charge.sub.Amount,
		Currency:    charge.sub.Currency,
		Description: fmt.Sprintf("%s %s premium", charge.sub.PlanTier, charge.sub.CoverageType),
	})
	switch {
	case err == nil && result.Approved:
		return s.recordApproved(ctx, charge, result)
	case err == nil:
		return s.recordDeclined(ctx, charge, result)
	case errors.Is(err, gateway.ErrOutcomeUnknown):
		s.logger(ctx).Warn("billing.charge.unknown",
			zap.String("subscription_id", charge.sub.ID.String()),
			zap.String("reference", charge.reference),
			zap.Error(err),
		)
		return s.recordUnsettled(ctx, charge, domain.OutcomeUnknown, domain.ClaimStatusUnknown, err)
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		s.logger(ctx).Warn("billing.charge.transient",
			zap.String("subscription_id", charge.sub.ID.String()),
			zap.String("reference", charge.reference),
			zap.Error(err),
		)
		return s.recordUnsettled(ctx, charge, domain.OutcomeTransient, domain.ClaimStatusTransient, err)
	default:
		return errors.Join(err, s.recordUnsettled(ctx, charge, domain.OutcomeTransient, domain.ClaimStatusTransient, err))
	}
}

func (s *Scheduler) recordApproved(ctx context.Context, charge periodCharge, result gateway.ChargeResult) error {
	if err := s.insertLog(ctx, charge, domain.OutcomeApproved, result.TransactionID, result.ResponseCode); err != nil {
		return err
	}
	if err := s.setClaim(ctx, charge, domain.ClaimStatusSucceeded); err != nil {
		return err
	}
	if _, err := s.subscriptions.RecordPayment(ctx, charge.sub.ID, charge.sub.CurrentPeriodStart.UTC()); err != nil {
		return err
	}
	s.recordOutcome(ctx, domain.OutcomeApproved)
	s.logger(ctx).Info("billing.charge.approved",
		zap.String("subscription_id", charge.sub.ID.String()),
		zap.String("transaction_id", result.TransactionID),
		zap.String("reference", charge.reference),
		zap.Int64("amount", charge.sub.Amount),
	)
	return nil
}

func (s *Scheduler) recordDeclined(ctx context.Context, charge periodCharge, result gateway.ChargeResult) error {
	detail := result.ResponseCode
	if result.Message != "" {
		detail = result.ResponseCode + " " + result.Message
	}
	if err := s.insertLog(ctx, charge, domain.OutcomeDeclined, result.TransactionID, detail); err != nil {
		return err
	}
	if err := s.setClaim(ctx, charge, domain.ClaimStatusDeclined); err != nil {
		return err
	}
	tally, err := s.subscriptions.RecordFailure(ctx, charge.sub.ID, s.cfg.FailureThreshold)
	if err != nil {
		return err
	}
	s.recordOutcome(ctx, domain.OutcomeDeclined)
	s.logger(ctx).Warn("billing.charge.declined",
		zap.String("subscription_id", charge.sub.ID.String()),
		zap.String("reference", charge.reference),
		zap.String("response_code", result.ResponseCode),
		zap.Int("consecutive_failures", tally.ConsecutiveFailures),
	)

	if tally.ConsecutiveFailures == s.cfg.FailureThreshold {
		subID := charge.sub.ID
		memberID := charge.sub.MemberID
		s.notify(ctx, notificationdomain.Entry{
			MemberID:       &memberID,
			SubscriptionID: &subID,
			Stage:          notificationdomain.StageBillingPastDue,
			Detail:         fmt.Sprintf("%d consecutive declined charges", tally.ConsecutiveFailures),
			Metadata: map[string]any{
				"reference":     charge.reference,
				"period_start":  charge.periodStart,
				"response_code": result.ResponseCode,
			},
			DedupeKey: fmt.Sprintf("billing_past_due:%s:%s", subID, charge.periodStart.Format("20060102")),
		})
	}
	return nil
}

// recordUnsettled never touches the failure count: the member was not
// shown to be unable to pay.
func (s *Scheduler) recordUnsettled(ctx context.Context, charge periodCharge, outcome domain.Outcome, status domain.ClaimStatus, cause error) error {
	if err := s.insertLog(ctx, charge, outcome, "", cause.Error()); err != nil {
		return err
	}
	s.recordOutcome(ctx, outcome)
	return s.setClaim(ctx, charge, status)
}

func (s *Scheduler) recordNoToken(ctx context.Context, charge periodCharge) error {
	if err := s.insertLog(ctx, charge, domain.OutcomeNoToken, "", "no payment token on file"); err != nil {
		return err
	}
	s.recordOutcome(ctx, domain.OutcomeNoToken)
	subID := charge.sub.ID
	memberID := charge.sub.MemberID
	s.notify(ctx, notificationdomain.Entry{
		MemberID:       &memberID,
		SubscriptionID: &subID,
		Stage:          notificationdomain.StageBillingNoToken,
		Detail:         "cannot bill: no payment token on file",
		Metadata: map[string]any{
			"period_start": charge.periodStart,
			"amount":       charge.sub.Amount,
		},
	})
	s.logger(ctx).Warn("billing.charge.no_token", zap.String("subscription_id", subID.String()))
	return s.setClaim(ctx, charge, domain.ClaimStatusOpen)
}

func (s *Scheduler) insertLog(ctx context.Context, charge periodCharge, outcome domain.Outcome, transactionID, detail string) error {
	return s.repo.InsertLog(ctx, s.db, &domain.ChargeLog{
		ID:                   s.genID.Generate(),
		SubscriptionID:       charge.sub.ID,
		PeriodStart:          charge.periodStart,
		Attempt:              charge.attempt,
		Amount:               charge.sub.Amount,
		Currency:             charge.sub.Currency,
		Outcome:              outcome,
		GatewayTransactionID: transactionID,
		Reference:            charge.reference,
		Detail:               detail,
		CreatedAt:            s.clock.Now().UTC(),
	})
}

func (s *Scheduler) setClaim(ctx context.Context, charge periodCharge, status domain.ClaimStatus) error {
	return s.repo.SetClaimStatus(ctx, s.db, charge.sub.ID, charge.periodStart, status, s.clock.Now().UTC())
}

func (s *Scheduler) recordOutcome(ctx context.Context, outcome domain.Outcome) {
	obsmetrics.Scheduler().IncChargeOutcome(string(outcome))
	s.obsMetrics.RecordCharge(ctx, string(outcome))
}

// notify never fails the run; the notification sink logs its own errors.
func (s *Scheduler) notify(ctx context.Context, entry notificationdomain.Entry) {
	if _, err := s.notifications.Record(ctx, entry); err != nil {
		s.logger(ctx).Error("billing.notification.failed",
			zap.String("stage", string(entry.Stage)),
			zap.Error(err),
		)
	}
}
