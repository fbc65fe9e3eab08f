package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	enrollmentdomain "github.com/smallbiznis/enrollment/internal/enrollment/domain"
	enrollmentrepo "github.com/smallbiznis/enrollment/internal/enrollment/repository"
	"github.com/smallbiznis/enrollment/internal/gateway"
	paymentdomain "github.com/smallbiznis/enrollment/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/enrollment/internal/payment/repository"
	"github.com/smallbiznis/enrollment/internal/payment/webhook"
	"github.com/smallbiznis/enrollment/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const route = "/v1/gateway/callback"

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	signer   *gateway.Signer
	verifier *webhook.Verifier
	session  paymentdomain.PaymentSession
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	signer, err := gateway.NewSigner("callback-secret")
	require.NoError(t, err)

	gatewaySessionID := "sess-corr-1-1"
	session := paymentdomain.PaymentSession{
		ID:               snowflake.ID(100),
		CorrelationID:    "corr-1",
		Attempt:          1,
		Amount:           2800,
		Currency:         "USD",
		GatewaySessionID: &gatewaySessionID,
		Status:           paymentdomain.SessionStatusInitiated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, paymentrepo.Provide().Insert(context.Background(), db, &session))

	verifier := webhook.NewVerifier(webhook.Params{
		DB:            db,
		Log:           zap.NewNop(),
		Clock:         clock.NewFakeClock(now),
		Cfg:           config.Config{Gateway: config.GatewayConfig{CallbackRoute: route}},
		Signer:        signer,
		Repo:          paymentrepo.Provide(),
		Finalizations: enrollmentrepo.Provide(),
	})
	return fixture{db: db, signer: signer, verifier: verifier, session: session}
}

func callbackBody(t *testing.T, overrides map[string]any) []byte {
	t.Helper()
	body := map[string]any{
		"transaction_id": "T-1001",
		"session_id":     "sess-corr-1-1",
		"correlation_id": "corr-1",
		"status":         "approved",
		"response_code":  "00",
		"amount":         2800,
		"currency":       "USD",
		"billing_token":  "BRIC-99",
		"occurred_at":    now.Unix(),
	}
	for k, v := range overrides {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func (f fixture) headers(raw []byte) http.Header {
	h := http.Header{}
	h.Set(webhook.SignatureHeader, f.signer.Sign(route, raw))
	return h
}

func TestVerifyAcceptsSignedCallback(t *testing.T) {
	f := newFixture(t)
	raw := callbackBody(t, nil)

	got, err := f.verifier.Verify(context.Background(), raw, f.headers(raw))
	require.NoError(t, err)
	assert.False(t, got.Duplicate)
	assert.True(t, got.Outcome.Approved)
	assert.Equal(t, "T-1001", got.Outcome.TransactionID)
	assert.Equal(t, "BRIC-99", got.Outcome.BillingToken)
	assert.Equal(t, f.session.ID, got.Session.ID)

	stored, err := paymentrepo.Provide().FindByID(context.Background(), f.db, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.SessionStatusCallbackReceived, stored.Status)
	require.NotNil(t, stored.GatewayTransactionID)
	assert.Equal(t, "T-1001", *stored.GatewayTransactionID)
}

func TestVerifyRejectsBadSignatureBeforeParsing(t *testing.T) {
	f := newFixture(t)
	raw := callbackBody(t, nil)
	h := http.Header{}
	h.Set(webhook.SignatureHeader, "deadbeef")

	_, err := f.verifier.Verify(context.Background(), raw, h)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	_, err = f.verifier.Verify(context.Background(), raw, http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	// A valid signature over a different body does not transfer.
	tampered := callbackBody(t, map[string]any{"amount": 1})
	_, err = f.verifier.Verify(context.Background(), tampered, f.headers(raw))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	stored, err := paymentrepo.Provide().FindByID(context.Background(), f.db, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.SessionStatusInitiated, stored.Status)
}

func TestVerifyRejectsMismatchedSessionData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw := callbackBody(t, map[string]any{"amount": 2700})
	_, err := f.verifier.Verify(ctx, raw, f.headers(raw))
	assert.ErrorIs(t, err, paymentdomain.ErrAmountMismatch)

	raw = callbackBody(t, map[string]any{"currency": "EUR"})
	_, err = f.verifier.Verify(ctx, raw, f.headers(raw))
	assert.ErrorIs(t, err, paymentdomain.ErrAmountMismatch)

	raw = callbackBody(t, map[string]any{"session_id": "sess-unknown"})
	_, err = f.verifier.Verify(ctx, raw, f.headers(raw))
	assert.ErrorIs(t, err, paymentdomain.ErrSessionNotFound)

	raw = callbackBody(t, map[string]any{"correlation_id": "corr-other"})
	_, err = f.verifier.Verify(ctx, raw, f.headers(raw))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	raw = []byte(`{"status":"approved"`)
	_, err = f.verifier.Verify(ctx, raw, f.headers(raw))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestVerifyReportsTerminalFinalizationAsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := enrollmentrepo.Provide()

	item := enrollmentdomain.Finalization{
		ID:                   snowflake.ID(7),
		GatewayTransactionID: "T-1001",
		CorrelationID:        "corr-1",
		PaymentSessionID:     f.session.ID,
		State:                enrollmentdomain.StatePending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	inserted, err := repo.InsertIfAbsent(ctx, f.db, &item)
	require.NoError(t, err)
	require.True(t, inserted)

	raw := callbackBody(t, nil)
	got, err := f.verifier.Verify(ctx, raw, f.headers(raw))
	require.NoError(t, err)
	assert.False(t, got.Duplicate, "in-progress finalization is resumed, not absorbed")

	require.NoError(t, repo.Finish(ctx, f.db, item.ID, enrollmentdomain.StateComplete, "", now))
	got, err = f.verifier.Verify(ctx, raw, f.headers(raw))
	require.NoError(t, err)
	assert.True(t, got.Duplicate)
	require.NotNil(t, got.Previous)
	assert.Equal(t, enrollmentdomain.StateComplete, got.Previous.State)
}

func TestVerifyDeclineOnRejectedSessionIsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := "T-2000"
	_, err := paymentrepo.Provide().MarkRejected(ctx, f.db, f.session.ID, &txn, "declined", now)
	require.NoError(t, err)

	raw := callbackBody(t, map[string]any{"transaction_id": txn, "status": "declined", "response_code": "05"})
	got, err := f.verifier.Verify(ctx, raw, f.headers(raw))
	require.NoError(t, err)
	assert.True(t, got.Duplicate)
	assert.Nil(t, got.Previous)
}
