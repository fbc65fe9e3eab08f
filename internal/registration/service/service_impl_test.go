package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/registration/domain"
	"github.com/smallbiznis/enrollment/internal/registration/service"
	"github.com/smallbiznis/enrollment/internal/registration/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validDraft() domain.Draft {
	return domain.Draft{
		CorrelationID: "corr-123",
		FirstName:     "Ada",
		LastName:      "Lovelace",
		Email:         "Ada@Example.com",
		Address: domain.Address{
			Line1:      "1 Main St",
			City:       "Springfield",
			State:      "IL",
			PostalCode: "62701",
		},
		PlanTier:     "Base",
		CoverageType: "Member Only",
		Amount:       2800,
		AgentID:      "agent-1",
		Consents:     domain.Consents{Terms: true, ESignature: true, RecurringBilling: true},
	}
}

func newService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	cfg := config.Config{Enrollment: config.EnrollmentConfig{DraftTTL: 24 * time.Hour, Currency: "usd"}}
	svc := service.NewService(service.Params{
		Cfg:   cfg,
		Log:   zap.NewNop(),
		Clock: clk,
		Store: store.NewMemoryStore(clk),
	})
	return svc, clk
}

func TestStageAndRetrieve(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	staged, err := svc.Stage(ctx, validDraft())
	require.NoError(t, err)
	assert.Equal(t, "corr-123", staged.CorrelationID)
	assert.Equal(t, "ada@example.com", staged.Email)
	assert.Equal(t, "USD", staged.Currency)
	assert.Equal(t, staged.StagedAt.Add(24*time.Hour), staged.ExpiresAt)

	got, err := svc.Retrieve(ctx, "corr-123")
	require.NoError(t, err)
	assert.Equal(t, staged, got)
}

func TestStageGeneratesCorrelationID(t *testing.T) {
	svc, _ := newService(t)
	draft := validDraft()
	draft.CorrelationID = ""

	staged, err := svc.Stage(context.Background(), draft)
	require.NoError(t, err)
	assert.NotEmpty(t, staged.CorrelationID)
}

func TestRetrieveAfterTTLIsExpired(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	_, err := svc.Stage(ctx, validDraft())
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)
	_, err = svc.Retrieve(ctx, "corr-123")
	assert.ErrorIs(t, err, domain.ErrDraftExpired)
}

func TestRestageRefreshesTTL(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	_, err := svc.Stage(ctx, validDraft())
	require.NoError(t, err)
	clk.Advance(20 * time.Hour)
	_, err = svc.Stage(ctx, validDraft())
	require.NoError(t, err)
	clk.Advance(20 * time.Hour)

	_, err = svc.Retrieve(ctx, "corr-123")
	assert.NoError(t, err)
}

func TestDiscardRemovesDraft(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Stage(ctx, validDraft())
	require.NoError(t, err)
	require.NoError(t, svc.Discard(ctx, "corr-123"))

	_, err = svc.Retrieve(ctx, "corr-123")
	assert.ErrorIs(t, err, domain.ErrDraftExpired)
}

func TestStageValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := map[string]struct {
		mutate func(*domain.Draft)
		want   error
	}{
		"missing name":     {func(d *domain.Draft) { d.LastName = " " }, domain.ErrInvalidName},
		"bad email":        {func(d *domain.Draft) { d.Email = "nope" }, domain.ErrInvalidEmail},
		"missing address":  {func(d *domain.Draft) { d.Address.City = "" }, domain.ErrInvalidAddress},
		"missing plan":     {func(d *domain.Draft) { d.CoverageType = "" }, domain.ErrInvalidPlan},
		"zero amount":      {func(d *domain.Draft) { d.Amount = 0 }, domain.ErrInvalidAmount},
		"bad currency":     {func(d *domain.Draft) { d.Currency = "DOLLARS" }, domain.ErrInvalidCurrency},
		"no billing agree": {func(d *domain.Draft) { d.Consents.RecurringBilling = false }, domain.ErrConsentRequired},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			draft := validDraft()
			tc.mutate(&draft)
			_, err := svc.Stage(ctx, draft)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
