package billing

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/enrollment/internal/billing/domain"
	"github.com/smallbiznis/enrollment/internal/billing/repository"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/gateway"
	"github.com/smallbiznis/enrollment/internal/gateway/gatewaytest"
	notificationdomain "github.com/smallbiznis/enrollment/internal/notification/domain"
	notificationrepo "github.com/smallbiznis/enrollment/internal/notification/repository"
	notificationservice "github.com/smallbiznis/enrollment/internal/notification/service"
	obsmetrics "github.com/smallbiznis/enrollment/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/enrollment/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/enrollment/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/enrollment/internal/subscription/service"
	"github.com/smallbiznis/enrollment/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Subscriptions open at enrolledAt and fall due one month later; billAt is
// just past that.
var (
	enrolledAt = time.Date(2026, 6, 12, 14, 0, 0, 0, time.UTC)
	billAt     = time.Date(2026, 7, 12, 15, 0, 0, 0, time.UTC)
)

type harness struct {
	db            *gorm.DB
	clock         *clock.FakeClock
	genID         *snowflake.Node
	registry      *prometheus.Registry
	gateway       *gatewaytest.Server
	client        *gateway.Client
	subscriptions subscriptiondomain.Service
	notifications notificationdomain.Service
	repo          domain.Repository
	cfg           Config
	sched         *Scheduler
	nextMember    snowflake.ID
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	registry := prometheus.NewRegistry()
	t.Cleanup(swapPrometheusRegistry(registry))
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "enrollment", Environment: "test"})

	db := testutil.NewSQLiteDB(t)
	clk := clock.NewFakeClock(enrolledAt)
	genID := testutil.NewNode(t, 11)
	log := zap.NewNop()

	srv := gatewaytest.NewServer(t)
	gwCfg := srv.Config()
	gwCfg.ChargeTimeout = 200 * time.Millisecond
	gwCfg.RetryInitialInterval = time.Millisecond
	client, err := gateway.NewClient(gwCfg, log)
	require.NoError(t, err)

	cfg := Config{
		BatchSize:        2,
		Workers:          4,
		FailureThreshold: 3,
		ChargeTimeout:    time.Second,
		ClaimLease:       10 * time.Minute,
		RetryInterval:    time.Hour,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	h := &harness{
		db:       db,
		clock:    clk,
		genID:    genID,
		registry: registry,
		gateway:  srv,
		client:   client,
		subscriptions: subscriptionservice.NewService(subscriptionservice.Params{
			DB: db, Log: log, GenID: genID, Clock: clk,
			Cfg:  config.Config{Billing: config.BillingConfig{PeriodMonths: 1}},
			Repo: subscriptionrepo.Provide(),
		}),
		notifications: notificationservice.NewService(notificationservice.Params{
			DB: db, Log: log, GenID: genID, Clock: clk, Repo: notificationrepo.Provide(),
		}),
		repo:       repository.Provide(),
		cfg:        cfg,
		nextMember: 100,
	}
	h.sched = h.newScheduler(t)
	return h
}

func (h *harness) newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	sched, err := New(Params{
		DB:            h.db,
		Log:           zap.NewNop(),
		GenID:         h.genID,
		Clock:         h.clock,
		Config:        h.cfg,
		Repo:          h.repo,
		Subscriptions: h.subscriptions,
		Notifications: h.notifications,
		Charger:       h.client,
	})
	require.NoError(t, err)
	return sched
}

// enroll creates a subscription at enrolledAt and stores token when it is not empty.
func (h *harness) enroll(t *testing.T, token string) subscriptiondomain.Subscription {
	t.Helper()
	ctx := context.Background()

	h.nextMember++
	saved := h.clock.Now()
	h.clock.Set(enrolledAt)
	defer h.clock.Set(saved)

	sub, err := h.subscriptions.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		MemberID:     h.nextMember,
		PlanTier:     "Base",
		CoverageType: "Member Only",
		Amount:       2800,
		Currency:     "USD",
	})
	require.NoError(t, err)
	if token != "" {
		_, err := h.subscriptions.StoreToken(ctx, sub.ID, token)
		require.NoError(t, err)
	}
	return sub
}

func (h *harness) reload(t *testing.T, id snowflake.ID) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := h.subscriptions.GetByID(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (h *harness) logs(t *testing.T, id snowflake.ID) []domain.ChargeLog {
	t.Helper()
	items, err := h.repo.ListLogs(context.Background(), h.db, id)
	require.NoError(t, err)
	return items
}

func (h *harness) claim(t *testing.T, sub subscriptiondomain.Subscription) domain.PeriodClaim {
	t.Helper()
	item, err := h.repo.FindClaim(context.Background(), h.db, sub.ID, sub.NextBillAt)
	require.NoError(t, err)
	require.NotNil(t, item)
	return *item
}

func (h *harness) notificationsFor(t *testing.T, stage notificationdomain.Stage) []notificationdomain.Notification {
	t.Helper()
	items, err := h.notifications.ListUnresolved(context.Background(), 100)
	require.NoError(t, err)
	var out []notificationdomain.Notification
	for _, item := range items {
		if item.Stage == stage {
			out = append(out, item)
		}
	}
	return out
}

func (h *harness) chargesFor(token string) []gatewaytest.ChargeCall {
	var out []gatewaytest.ChargeCall
	for _, call := range h.gateway.Charges() {
		if call.Token == token {
			out = append(out, call)
		}
	}
	return out
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			matched := len(metric.GetLabel()) == len(labels)
			for _, label := range metric.GetLabel() {
				if labels[label.GetName()] != label.GetValue() {
					matched = false
				}
			}
			if matched {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}
