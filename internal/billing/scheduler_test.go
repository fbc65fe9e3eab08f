package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/enrollment/internal/billing/domain"
	"github.com/smallbiznis/enrollment/internal/gateway/gatewaytest"
	notificationdomain "github.com/smallbiznis/enrollment/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/enrollment/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/enrollment/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunOnceChargesEveryDueSubscriptionAcrossBatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	subs := []subscriptiondomain.Subscription{
		h.enroll(t, "tok-a"),
		h.enroll(t, "tok-b"),
		h.enroll(t, "tok-c"),
	}
	h.clock.Set(billAt)

	require.NoError(t, h.sched.RunOnce(ctx))
	assert.Len(t, h.gateway.Charges(), 3)

	for _, sub := range subs {
		got := h.reload(t, sub.ID)
		assert.True(t, sub.NextBillAt.Equal(got.CurrentPeriodStart))
		assert.True(t, time.Date(2026, 8, 12, 14, 0, 0, 0, time.UTC).Equal(got.NextBillAt))
		assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, got.Status)

		logs := h.logs(t, sub.ID)
		require.Len(t, logs, 1)
		assert.Equal(t, domain.OutcomeApproved, logs[0].Outcome)
		assert.Equal(t, chargeReference(sub.ID, sub.NextBillAt, 1), logs[0].Reference)
		assert.NotEmpty(t, logs[0].GatewayTransactionID)
		assert.Equal(t, domain.ClaimStatusSucceeded, h.claim(t, sub).Status)

		token, err := h.subscriptions.GetToken(ctx, sub.ID)
		require.NoError(t, err)
		assert.NotNil(t, token.LastUsedAt)
	}

	require.NoError(t, h.sched.RunOnce(ctx))
	assert.Len(t, h.gateway.Charges(), 3, "nothing is due until the next period")

	labels := map[string]string{"service": "enrollment", "env": "test", "outcome": "approved"}
	assert.Equal(t, float64(3), getCounterValue(t, h.registry, "enrollment_billing_charge_outcomes_total", labels))
}

func TestOneFailingSubscriptionDoesNotAffectOthers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gateway.OnToken("tok-declined", gatewaytest.Decline)
	h.gateway.OnToken("tok-down", gatewaytest.Unavailable)
	declined := h.enroll(t, "tok-declined")
	down := h.enroll(t, "tok-down")
	paid := h.enroll(t, "tok-paid")
	h.clock.Set(billAt)

	require.NoError(t, h.sched.RunOnce(ctx))

	got := h.reload(t, paid.ID)
	assert.True(t, paid.NextBillAt.Equal(got.CurrentPeriodStart))

	got = h.reload(t, declined.ID)
	assert.Equal(t, 1, got.ConsecutiveFailures)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, got.Status)
	assert.True(t, declined.NextBillAt.Equal(got.NextBillAt))
	assert.Equal(t, domain.ClaimStatusDeclined, h.claim(t, declined).Status)

	got = h.reload(t, down.ID)
	assert.Zero(t, got.ConsecutiveFailures, "an unavailable gateway is not the member's failure")
	assert.Equal(t, domain.ClaimStatusTransient, h.claim(t, down).Status)
	logs := h.logs(t, down.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.OutcomeTransient, logs[0].Outcome)
}

func TestTransientFailureRetriesWithSameReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gateway.OnToken("tok-1", gatewaytest.Unavailable)
	sub := h.enroll(t, "tok-1")
	h.clock.Set(billAt)

	require.NoError(t, h.sched.RunOnce(ctx))

	h.gateway.OnToken("tok-1", gatewaytest.Approve)
	h.clock.Advance(time.Minute)
	require.NoError(t, h.sched.RunOnce(ctx))

	charges := h.chargesFor("tok-1")
	require.Len(t, charges, 2)
	assert.Equal(t, charges[0].Reference, charges[1].Reference)
	assert.Equal(t, domain.ClaimStatusSucceeded, h.claim(t, sub).Status)
}

func TestDeclinesReachThresholdAndNotifyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gateway.OnToken("tok-1", gatewaytest.Decline)
	sub := h.enroll(t, "tok-1")
	h.clock.Set(billAt)

	require.NoError(t, h.sched.RunOnce(ctx))
	require.NoError(t, h.sched.RunOnce(ctx))
	assert.Len(t, h.chargesFor("tok-1"), 1, "a decline is not retried before the retry interval")

	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Hour)
		require.NoError(t, h.sched.RunOnce(ctx))
	}

	charges := h.chargesFor("tok-1")
	require.Len(t, charges, 4)
	for i, call := range charges {
		assert.Equal(t, chargeReference(sub.ID, sub.NextBillAt, i+1), call.Reference)
	}

	got := h.reload(t, sub.ID)
	assert.Equal(t, 4, got.ConsecutiveFailures)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, got.Status)

	pastDue := h.notificationsFor(t, notificationdomain.StageBillingPastDue)
	require.Len(t, pastDue, 1)
	require.NotNil(t, pastDue[0].SubscriptionID)
	assert.Equal(t, sub.ID, *pastDue[0].SubscriptionID)
}

func TestApprovalAfterPastDueRestoresSubscription(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.FailureThreshold = 1 })
	ctx := context.Background()

	h.gateway.OnToken("tok-1", gatewaytest.Decline)
	sub := h.enroll(t, "tok-1")
	h.clock.Set(billAt)

	require.NoError(t, h.sched.RunOnce(ctx))
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, h.reload(t, sub.ID).Status)

	h.gateway.OnToken("tok-1", gatewaytest.Approve)
	h.clock.Advance(time.Hour)
	require.NoError(t, h.sched.RunOnce(ctx))

	got := h.reload(t, sub.ID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, got.Status)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.True(t, sub.NextBillAt.Equal(got.CurrentPeriodStart))
}

func TestUnknownOutcomeIsReconciledBeforeChargingAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gateway.OnToken("tok-1", gatewaytest.Hang)
	sub := h.enroll(t, "tok-1")
	h.clock.Set(billAt)

	require.NoError(t, h.sched.RunOnce(ctx))

	assert.Equal(t, domain.ClaimStatusUnknown, h.claim(t, sub).Status)
	assert.Zero(t, h.reload(t, sub.ID).ConsecutiveFailures)
	logs := h.logs(t, sub.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.OutcomeUnknown, logs[0].Outcome)

	// The first request did reach the gateway and was approved.
	reference := chargeReference(sub.ID, sub.NextBillAt, 1)
	h.gateway.Complete(reference, map[string]any{
		"status":         "approved",
		"response_code":  "00",
		"transaction_id": "TX-LATE",
		"reference":      reference,
		"amount":         2800,
		"currency":       "USD",
	})
	h.gateway.OnToken("tok-1", gatewaytest.Approve)
	h.clock.Advance(time.Minute)
	require.NoError(t, h.sched.RunOnce(ctx))

	assert.Len(t, h.chargesFor("tok-1"), 1, "the reconciled charge is not sent again")
	got := h.reload(t, sub.ID)
	assert.True(t, sub.NextBillAt.Equal(got.CurrentPeriodStart))

	logs = h.logs(t, sub.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.OutcomeApproved, logs[1].Outcome)
	assert.Equal(t, "TX-LATE", logs[1].GatewayTransactionID)
}

func TestUnknownOutcomeNotFoundRechargesWithSameReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gateway.OnToken("tok-1", gatewaytest.Hang)
	sub := h.enroll(t, "tok-1")
	h.clock.Set(billAt)

	require.NoError(t, h.sched.RunOnce(ctx))

	h.gateway.OnToken("tok-1", gatewaytest.Approve)
	h.clock.Advance(time.Minute)
	require.NoError(t, h.sched.RunOnce(ctx))

	charges := h.chargesFor("tok-1")
	require.Len(t, charges, 2)
	assert.Equal(t, charges[0].Reference, charges[1].Reference)
	assert.Equal(t, domain.ClaimStatusSucceeded, h.claim(t, sub).Status)
}

func TestMissingTokenRaisesOneNotification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub := h.enroll(t, "")
	h.clock.Set(billAt)

	require.NoError(t, h.sched.RunOnce(ctx))
	h.clock.Advance(time.Hour)
	require.NoError(t, h.sched.RunOnce(ctx))

	assert.Empty(t, h.gateway.Charges())
	logs := h.logs(t, sub.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.OutcomeNoToken, logs[0].Outcome)

	noToken := h.notificationsFor(t, notificationdomain.StageBillingNoToken)
	require.Len(t, noToken, 1)
	assert.Contains(t, noToken[0].ErrorDetail, "no payment token")
	assert.Equal(t, domain.ClaimStatusOpen, h.claim(t, sub).Status)
	assert.Zero(t, h.reload(t, sub.ID).ConsecutiveFailures)
}

func TestResolvedNoTokenNotificationIsRaisedAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub := h.enroll(t, "")
	h.clock.Set(billAt)
	require.NoError(t, h.sched.RunOnce(ctx))

	first := h.notificationsFor(t, notificationdomain.StageBillingNoToken)
	require.Len(t, first, 1)
	require.NoError(t, h.notifications.MarkResolved(ctx, first[0].ID, "ops@example.com"))

	h.clock.Advance(time.Hour)
	require.NoError(t, h.sched.RunOnce(ctx))

	again := h.notificationsFor(t, notificationdomain.StageBillingNoToken)
	require.Len(t, again, 1)
	assert.NotEqual(t, first[0].ID, again[0].ID)
	require.NotNil(t, again[0].SubscriptionID)
	assert.Equal(t, sub.ID, *again[0].SubscriptionID)
	assert.Len(t, h.logs(t, sub.ID), 2)
}

func TestPaidPeriodIsNeverChargedTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub := h.enroll(t, "tok-1")
	h.clock.Set(billAt)
	require.NoError(t, h.sched.RunOnce(ctx))

	// Roll the subscription back as if the period advance had been lost.
	require.NoError(t, h.db.Exec(
		`UPDATE subscriptions SET current_period_start = ?, current_period_end = ?, next_bill_at = ? WHERE id = ?`,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextBillAt, sub.ID,
	).Error)

	h.clock.Advance(time.Minute)
	require.NoError(t, h.sched.RunOnce(ctx))

	assert.Len(t, h.chargesFor("tok-1"), 1)
	got := h.reload(t, sub.ID)
	assert.True(t, sub.NextBillAt.Equal(got.CurrentPeriodStart))
}

func TestConcurrentRunsChargeEachPeriodOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tokens := []string{"tok-a", "tok-b", "tok-c", "tok-d", "tok-e"}
	for _, token := range tokens {
		h.enroll(t, token)
	}
	h.clock.Set(billAt)

	schedulers := []*Scheduler{h.sched, h.newScheduler(t), h.newScheduler(t)}
	var wg sync.WaitGroup
	for _, sched := range schedulers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sched.RunOnce(ctx))
		}()
	}
	wg.Wait()

	for _, token := range tokens {
		assert.Len(t, h.chargesFor(token), 1, token)
	}
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	h := newHarness(t)

	err := h.sched.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{"service": "enrollment", "env": "test", "job": "timeout_job"}
	assert.Equal(t, float64(1), getCounterValue(t, h.registry, "enrollment_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "enrollment",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, h.registry, "enrollment_scheduler_job_errors_total", errorLabels))
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
