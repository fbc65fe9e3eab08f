package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/enrollment/internal/billing"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/commission"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/enrollment"
	"github.com/smallbiznis/enrollment/internal/gateway"
	"github.com/smallbiznis/enrollment/internal/gateway/gatewaytest"
	"github.com/smallbiznis/enrollment/internal/lock"
	"github.com/smallbiznis/enrollment/internal/member"
	"github.com/smallbiznis/enrollment/internal/notification"
	"github.com/smallbiznis/enrollment/internal/observability"
	"github.com/smallbiznis/enrollment/internal/payment"
	"github.com/smallbiznis/enrollment/internal/ratelimit"
	"github.com/smallbiznis/enrollment/internal/redisclient"
	"github.com/smallbiznis/enrollment/internal/registration"
	"github.com/smallbiznis/enrollment/internal/server"
	"github.com/smallbiznis/enrollment/internal/subscription"
	"github.com/smallbiznis/enrollment/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"gorm.io/gorm"
)

const (
	callbackRoute = "/v1/gateway/callback"
	adminToken    = "e2e-admin-token"
)

var enrolledAt = time.Date(2026, 6, 12, 14, 0, 0, 0, time.UTC)

type testEnv struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	gateway   *gatewaytest.Server
	scheduler *billing.Scheduler
	baseURL   string
}

// startEnv wires the same modules the enrollment binary runs, against an
// in-memory database and an in-process gateway.
func startEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("OTEL_ENABLED", "false")

	gw := gatewaytest.NewServer(t)
	clk := clock.NewFakeClock(enrolledAt)
	conn := testutil.NewSQLiteDB(t)

	var (
		srv   *server.Server
		sched *billing.Scheduler
	)

	app := fxtest.New(t,
		config.Module,
		fx.Decorate(func(cfg config.Config) config.Config {
			cfg.Environment = "test"
			cfg.HTTPAddr = "127.0.0.1:0"
			cfg.AdminToken = adminToken
			cfg.Redis.Enabled = false
			cfg.RateLimit.Enabled = false
			cfg.Gateway.BaseURL = gw.URL
			cfg.Gateway.MerchantID = gatewaytest.MerchantID
			cfg.Gateway.SharedSecret = gatewaytest.Secret
			cfg.Gateway.CallbackRoute = callbackRoute
			cfg.Enrollment.DraftTTL = 24 * time.Hour
			cfg.Enrollment.MaxPaymentAttempts = 3
			cfg.Enrollment.Currency = "USD"
			cfg.Enrollment.CustomerNumberPrefix = "MB"
			cfg.Enrollment.DraftStore = "memory"
			cfg.Billing.Enabled = false
			cfg.Billing.PeriodMonths = 1
			cfg.Billing.Workers = 2
			cfg.Billing.BatchSize = 10
			return cfg
		}),
		observability.Module,
		fx.Supply(conn),
		clock.Module,
		fx.Decorate(func(clock.Clock) clock.Clock { return clk }),
		fx.Provide(func() (*snowflake.Node, error) { return snowflake.NewNode(3) }),
		redisclient.Module,
		lock.Module,
		ratelimit.Module,
		gateway.Module,
		registration.Module,
		commission.Module,
		member.Module,
		subscription.Module,
		notification.Module,
		payment.Module,
		enrollment.Module,
		billing.Module,
		server.Module,
		fx.Populate(&srv, &sched),
	)
	app.RequireStart()
	t.Cleanup(app.RequireStop)

	httpSrv := httptest.NewServer(srv.Engine())
	t.Cleanup(httpSrv.Close)

	return &testEnv{
		db:        conn,
		clock:     clk,
		gateway:   gw,
		scheduler: sched,
		baseURL:   httpSrv.URL,
	}
}

func TestE2E_HealthCheck(t *testing.T) {
	env := startEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestE2E_EnrollThenBillFirstRenewal(t *testing.T) {
	env := startEnv(t)

	sessionID := env.register(t, "corr-e2e-1")

	callback := env.callbackBody("corr-e2e-1", sessionID, "T-1001", nil)
	resp, body := env.postCallback(t, callback)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var ack callbackAck
	require.NoError(t, json.Unmarshal(body, &ack))
	assert.Equal(t, "ok", ack.Status)
	assert.Equal(t, "enrolled", ack.Enrollment.Status)
	assert.Equal(t, "complete", ack.Enrollment.State)
	assert.Equal(t, "T-1001", ack.Enrollment.TransactionID)
	require.NotEmpty(t, ack.Enrollment.CustomerNumber)
	assert.Empty(t, ack.Enrollment.FailedStages)

	// The gateway redelivers; the recorded outcome comes back unchanged.
	resp, body = env.postCallback(t, callback)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var replay callbackAck
	require.NoError(t, json.Unmarshal(body, &replay))
	assert.True(t, replay.Enrollment.Duplicate)
	assert.Equal(t, ack.Enrollment.CustomerNumber, replay.Enrollment.CustomerNumber)
	assert.Equal(t, int64(1), env.count(t, "members"))

	resp, body = env.do(t, http.MethodGet, "/admin/members/"+ack.Enrollment.CustomerNumber+"/commission", nil, adminAuth())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var commission struct {
		AgentID string `json:"agent_id"`
		Amount  int64  `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(body, &commission))
	assert.Equal(t, "agent-42", commission.AgentID)
	assert.Equal(t, int64(900), commission.Amount)

	// Nothing is due before the period ends.
	require.NoError(t, env.scheduler.RunOnce(context.Background()))
	assert.Empty(t, env.gateway.Charges())

	env.clock.Set(time.Date(2026, 7, 12, 15, 0, 0, 0, time.UTC))
	require.NoError(t, env.scheduler.RunOnce(context.Background()))
	require.NoError(t, env.scheduler.RunOnce(context.Background()))

	charges := env.gateway.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, "BRIC-99", charges[0].Token)
	assert.Equal(t, int64(2800), charges[0].Amount)
	assert.Equal(t, int64(1), env.count(t, "recurring_billing_logs"))

	resp, body = env.do(t, http.MethodGet, "/admin/notifications", nil, adminAuth())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"notifications":[]}`, string(body))
}

func TestE2E_DeclinesExhaustAttempts(t *testing.T) {
	env := startEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/registrations", sampleRegistration("corr-e2e-2"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	for attempt := 1; attempt <= 3; attempt++ {
		session := env.startSession(t, "corr-e2e-2")
		assert.Equal(t, attempt, session.Attempt)

		resp, body := env.postCallback(t, env.callbackBody("corr-e2e-2", session.GatewaySessionID, "D-"+session.GatewaySessionID,
			map[string]any{"status": "declined", "response_code": "05"}))
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var ack callbackAck
		require.NoError(t, json.Unmarshal(body, &ack))
		assert.Equal(t, "declined", ack.Enrollment.Status)
		require.NotNil(t, ack.Enrollment.AttemptsRemaining)
		assert.Equal(t, 3-attempt, *ack.Enrollment.AttemptsRemaining)
	}

	resp, body = env.do(t, http.MethodPost, "/v1/registrations/corr-e2e-2/payment-sessions", nil, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode, string(body))
	assert.Equal(t, int64(0), env.count(t, "members"))
	assert.Equal(t, 3, env.gateway.SessionCount())
}

func TestE2E_ForgedCallbackIsRejected(t *testing.T) {
	env := startEnv(t)

	sessionID := env.register(t, "corr-e2e-3")
	raw, err := json.Marshal(env.callbackBody("corr-e2e-3", sessionID, "T-6666", nil))
	require.NoError(t, err)

	resp, body := env.doRaw(t, http.MethodPost, callbackRoute, raw, map[string]string{
		gateway.CallbackSignatureHeader: "00",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, string(body))
	assert.Equal(t, int64(0), env.count(t, "finalizations"))
	assert.Equal(t, int64(0), env.count(t, "members"))
}

func TestE2E_RegistrationValidation(t *testing.T) {
	env := startEnv(t)

	draft := sampleRegistration("corr-e2e-4")
	draft["consents"] = map[string]any{"terms": true, "e_signature": true, "recurring_billing": false}

	resp, body := env.do(t, http.MethodPost, "/v1/registrations", draft, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodPost, "/v1/registrations/corr-e2e-4/payment-sessions", nil, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode, string(body))
	assert.Equal(t, 0, env.gateway.SessionCount())
}

type callbackAck struct {
	Status     string `json:"status"`
	Enrollment struct {
		Status            string   `json:"status"`
		State             string   `json:"state"`
		TransactionID     string   `json:"transaction_id"`
		CustomerNumber    string   `json:"customer_number"`
		FailedStages      []string `json:"failed_stages"`
		AttemptsRemaining *int     `json:"attempts_remaining"`
		Duplicate         bool     `json:"duplicate"`
	} `json:"enrollment"`
}

type sessionResponse struct {
	GatewaySessionID  string `json:"gateway_session_id"`
	Attempt           int    `json:"attempt"`
	AttemptsRemaining int    `json:"attempts_remaining"`
}

func sampleRegistration(correlationID string) map[string]any {
	return map[string]any{
		"correlation_id": correlationID,
		"first_name":     "Grace",
		"last_name":      "Hopper",
		"email":          "grace@example.com",
		"phone":          "555-0100",
		"address": map[string]any{
			"line1":       "1 Navy Way",
			"city":        "Arlington",
			"state":       "VA",
			"postal_code": "22201",
		},
		"plan_tier":     "Base",
		"coverage_type": "Member Only",
		"amount":        2800,
		"currency":      "USD",
		"agent_id":      "agent-42",
		"consents": map[string]any{
			"terms":             true,
			"e_signature":       true,
			"recurring_billing": true,
		},
	}
}

// register stages a draft and opens a payment session, returning the
// gateway session id.
func (e *testEnv) register(t *testing.T, correlationID string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/v1/registrations", sampleRegistration(correlationID), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	return e.startSession(t, correlationID).GatewaySessionID
}

func (e *testEnv) startSession(t *testing.T, correlationID string) sessionResponse {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/v1/registrations/"+correlationID+"/payment-sessions", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var session sessionResponse
	require.NoError(t, json.Unmarshal(body, &session))
	require.NotEmpty(t, session.GatewaySessionID)
	return session
}

func (e *testEnv) callbackBody(correlationID, sessionID, transactionID string, overrides map[string]any) map[string]any {
	body := map[string]any{
		"transaction_id": transactionID,
		"session_id":     sessionID,
		"correlation_id": correlationID,
		"status":         "approved",
		"response_code":  "00",
		"amount":         2800,
		"currency":       "USD",
		"billing_token":  "BRIC-99",
		"occurred_at":    e.clock.Now().Unix(),
	}
	for k, v := range overrides {
		body[k] = v
	}
	return body
}

func (e *testEnv) postCallback(t *testing.T, body map[string]any) (*http.Response, []byte) {
	t.Helper()
	raw, headers := e.gateway.Callback(callbackRoute, body)
	flat := make(map[string]string, len(headers))
	for k := range headers {
		flat[k] = headers.Get(k)
	}
	return e.doRaw(t, http.MethodPost, callbackRoute, raw, flat)
}

func (e *testEnv) count(t *testing.T, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Raw("SELECT COUNT(1) FROM "+table).Scan(&n).Error)
	return n
}

func adminAuth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminToken}
}

func (e *testEnv) do(t *testing.T, method, path string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	return e.doRaw(t, method, path, raw, headers)
}

func (e *testEnv) doRaw(t *testing.T, method, path string, raw []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.baseURL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}
