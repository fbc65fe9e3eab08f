package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/member/domain"
	"github.com/smallbiznis/enrollment/internal/member/repository"
	"github.com/smallbiznis/enrollment/internal/member/service"
	"github.com/smallbiznis/enrollment/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T, clk clock.Clock) domain.Service {
	t.Helper()
	cfg := config.Config{Enrollment: config.EnrollmentConfig{CustomerNumberPrefix: "MB"}}
	return service.NewService(service.Params{
		DB:    testutil.NewSQLiteDB(t),
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t, 2),
		Clock: clk,
		Cfg:   cfg,
		Repo:  repository.Provide(),
	})
}

func request(txn string) domain.CreateMemberRequest {
	return domain.CreateMemberRequest{
		GatewayTransactionID: txn,
		CorrelationID:        "corr-" + txn,
		FirstName:            "Ada",
		LastName:             "Lovelace",
		Email:                "Ada@Example.com",
		PlanTier:             "BRIC-99",
		CoverageType:         "Member Only",
		AgentID:              "agent-1",
	}
}

func TestCreateAssignsSequentialCustomerNumbers(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC))
	svc := newService(t, clk)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		m, created, err := svc.Create(ctx, nil, request(fmt.Sprintf("T-%d", i)))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, fmt.Sprintf("MB202604%05d", i), m.CustomerNumber)
		assert.True(t, m.IsActive)
		assert.Equal(t, "ada@example.com", m.Email)
	}

	clk.Set(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	m, _, err := svc.Create(ctx, nil, request("T-4"))
	require.NoError(t, err)
	assert.Equal(t, "MB20260500001", m.CustomerNumber)
}

func TestCreateIsIdempotentPerTransaction(t *testing.T) {
	svc := newService(t, clock.NewFakeClock(time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	first, created, err := svc.Create(ctx, nil, request("T-1001"))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := svc.Create(ctx, nil, request("T-1001"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CustomerNumber, second.CustomerNumber)

	byNumber, err := svc.GetByCustomerNumber(ctx, first.CustomerNumber)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byNumber.ID)
}

func TestCreateValidation(t *testing.T) {
	svc := newService(t, clock.NewFakeClock(time.Now()))
	ctx := context.Background()

	req := request("")
	_, _, err := svc.Create(ctx, nil, req)
	assert.ErrorIs(t, err, domain.ErrInvalidTransaction)

	req = request("T-1")
	req.LastName = " "
	_, _, err = svc.Create(ctx, nil, req)
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	req = request("T-1")
	req.PlanTier = ""
	_, _, err = svc.Create(ctx, nil, req)
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)

	_, err = svc.GetByID(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFormatCustomerNumber(t *testing.T) {
	assert.Equal(t, "MB20260100042", service.FormatCustomerNumber("MB", "202601", 42))
	assert.Equal(t, "X202612123456", service.FormatCustomerNumber("X", "202612", 123456))
}
