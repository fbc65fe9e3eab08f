package service_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/enrollment/internal/clock"
	commissionrepo "github.com/smallbiznis/enrollment/internal/commission/repository"
	commissionservice "github.com/smallbiznis/enrollment/internal/commission/service"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/enrollment/domain"
	enrollmentrepo "github.com/smallbiznis/enrollment/internal/enrollment/repository"
	"github.com/smallbiznis/enrollment/internal/enrollment/service"
	"github.com/smallbiznis/enrollment/internal/gateway"
	"github.com/smallbiznis/enrollment/internal/gateway/gatewaytest"
	memberrepo "github.com/smallbiznis/enrollment/internal/member/repository"
	memberservice "github.com/smallbiznis/enrollment/internal/member/service"
	notificationdomain "github.com/smallbiznis/enrollment/internal/notification/domain"
	notificationrepo "github.com/smallbiznis/enrollment/internal/notification/repository"
	notificationservice "github.com/smallbiznis/enrollment/internal/notification/service"
	paymentrepo "github.com/smallbiznis/enrollment/internal/payment/repository"
	paymentservice "github.com/smallbiznis/enrollment/internal/payment/service"
	"github.com/smallbiznis/enrollment/internal/payment/webhook"
	registrationdomain "github.com/smallbiznis/enrollment/internal/registration/domain"
	registrationservice "github.com/smallbiznis/enrollment/internal/registration/service"
	"github.com/smallbiznis/enrollment/internal/registration/store"
	subscriptiondomain "github.com/smallbiznis/enrollment/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/enrollment/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/enrollment/internal/subscription/service"
	"github.com/smallbiznis/enrollment/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const callbackRoute = "/v1/gateway/callback"

var enrollAt = time.Date(2026, 6, 12, 14, 0, 0, 0, time.UTC)

type harness struct {
	db            *gorm.DB
	clock         *clock.FakeClock
	gateway       *gatewaytest.Server
	svc           domain.Service
	drafts        registrationdomain.Service
	subscriptions subscriptiondomain.Service
	notifications notificationdomain.Service
}

type harnessOption func(*harnessDeps)

type harnessDeps struct {
	subscriptions subscriptiondomain.Service
}

func withSubscriptions(wrap func(subscriptiondomain.Service) subscriptiondomain.Service) harnessOption {
	return func(d *harnessDeps) { d.subscriptions = wrap(d.subscriptions) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	clk := clock.NewFakeClock(enrollAt)
	genID := testutil.NewNode(t, 9)
	log := zap.NewNop()
	cfg := config.Config{
		Gateway: config.GatewayConfig{CallbackRoute: callbackRoute},
		Enrollment: config.EnrollmentConfig{
			DraftTTL:             24 * time.Hour,
			MaxPaymentAttempts:   3,
			Currency:             "USD",
			CustomerNumberPrefix: "MB",
		},
		Billing: config.BillingConfig{PeriodMonths: 1},
	}

	srv := gatewaytest.NewServer(t)
	client, err := gateway.NewClient(srv.Config(), log)
	require.NoError(t, err)
	signer, err := gateway.NewSigner(gatewaytest.Secret)
	require.NoError(t, err)

	tables, err := config.NewStaticCommissionTableHolder(config.DefaultCommissionTable())
	require.NoError(t, err)

	drafts := registrationservice.NewService(registrationservice.Params{
		Cfg: cfg, Log: log, Clock: clk, Store: store.NewMemoryStore(clk),
	})
	members := memberservice.NewService(memberservice.Params{
		DB: db, Log: log, GenID: genID, Clock: clk, Cfg: cfg, Repo: memberrepo.Provide(),
	})
	deps := &harnessDeps{
		subscriptions: subscriptionservice.NewService(subscriptionservice.Params{
			DB: db, Log: log, GenID: genID, Clock: clk, Cfg: cfg, Repo: subscriptionrepo.Provide(),
		}),
	}
	for _, opt := range opts {
		opt(deps)
	}
	commissions := commissionservice.NewService(commissionservice.Params{
		DB: db, Log: log, GenID: genID, Clock: clk, Tables: tables, Repo: commissionrepo.Provide(),
	})
	notifications := notificationservice.NewService(notificationservice.Params{
		DB: db, Log: log, GenID: genID, Clock: clk, Repo: notificationrepo.Provide(),
	})
	payments := paymentservice.NewService(paymentservice.Params{
		DB: db, Log: log, GenID: genID, Clock: clk, Cfg: cfg, Gateway: client, Repo: paymentrepo.Provide(),
	})
	verifier := webhook.NewVerifier(webhook.Params{
		DB: db, Log: log, Clock: clk, Cfg: cfg, Signer: signer,
		Repo: paymentrepo.Provide(), Finalizations: enrollmentrepo.Provide(),
	})
	finalizer := service.NewFinalizer(service.FinalizerParams{
		DB:            db,
		Log:           log,
		GenID:         genID,
		Clock:         clk,
		Drafts:        drafts,
		Members:       members,
		Subscriptions: deps.subscriptions,
		Commissions:   commissions,
		Notifications: notifications,
		Payments:      paymentrepo.Provide(),
		Repo:          enrollmentrepo.Provide(),
	})
	svc := service.NewService(service.Params{
		Log:       log,
		Drafts:    drafts,
		Payments:  payments,
		Verifier:  verifier,
		Finalizer: finalizer,
	})

	return &harness{
		db:            db,
		clock:         clk,
		gateway:       srv,
		svc:           svc,
		drafts:        drafts,
		subscriptions: deps.subscriptions,
		notifications: notifications,
	}
}

func sampleDraft(correlationID string) registrationdomain.Draft {
	return registrationdomain.Draft{
		CorrelationID: correlationID,
		FirstName:     "Grace",
		LastName:      "Hopper",
		Email:         "grace@example.com",
		Phone:         "555-0100",
		Address: registrationdomain.Address{
			Line1:      "1 Navy Way",
			City:       "Arlington",
			State:      "VA",
			PostalCode: "22201",
		},
		PlanTier:     "Base",
		CoverageType: "Member Only",
		Amount:       2800,
		Currency:     "USD",
		AgentID:      "agent-42",
		Consents: registrationdomain.Consents{
			Terms:            true,
			ESignature:       true,
			RecurringBilling: true,
		},
	}
}

// enroll stages a draft and opens a payment session, returning the gateway session id.
func (h *harness) enroll(t *testing.T, draft registrationdomain.Draft) string {
	t.Helper()
	ctx := context.Background()
	staged, err := h.svc.SubmitDraft(ctx, draft)
	require.NoError(t, err)
	session, err := h.svc.StartPayment(ctx, staged.CorrelationID)
	require.NoError(t, err)
	return session.GatewaySessionID
}

func (h *harness) callback(correlationID, gatewaySessionID, transactionID string, overrides map[string]any) ([]byte, http.Header) {
	body := map[string]any{
		"transaction_id": transactionID,
		"session_id":     gatewaySessionID,
		"correlation_id": correlationID,
		"status":         "approved",
		"response_code":  "00",
		"amount":         2800,
		"currency":       "USD",
		"billing_token":  "BRIC-99",
		"occurred_at":    h.clock.Now().Unix(),
	}
	for k, v := range overrides {
		body[k] = v
	}
	return h.gateway.Callback(callbackRoute, body)
}

func (h *harness) count(t *testing.T, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Raw("SELECT COUNT(1) FROM "+table).Scan(&n).Error)
	return n
}

func (h *harness) unresolved(t *testing.T) []notificationdomain.Notification {
	t.Helper()
	items, err := h.notifications.ListUnresolved(context.Background(), 100)
	require.NoError(t, err)
	return items
}

type failingSubscriptions struct {
	subscriptiondomain.Service
}

func (failingSubscriptions) Create(context.Context, subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	return subscriptiondomain.Subscription{}, errSubscriptionStore
}
