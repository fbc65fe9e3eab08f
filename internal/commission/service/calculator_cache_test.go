package service

import (
	"testing"
	"time"

	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/commission/repository"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCalculatorIsReusedUntilTableReload(t *testing.T) {
	tables, err := config.NewStaticCommissionTableHolder(config.DefaultCommissionTable())
	require.NoError(t, err)
	svc := NewService(Params{
		DB:     testutil.NewSQLiteDB(t),
		Log:    zap.NewNop(),
		GenID:  testutil.NewNode(t, 1),
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Tables: tables,
		Repo:   repository.Provide(),
	}).(*Service)

	amount, err := svc.Calculate("Base", "Member Only")
	require.NoError(t, err)
	assert.Equal(t, int64(900), amount.Value)
	first := svc.calc.Load()
	require.NotNil(t, first)

	_, err = svc.Calculate("Elite", "Family")
	require.NoError(t, err)
	assert.Same(t, first, svc.calc.Load())

	require.NoError(t, tables.Replace(config.CommissionTable{
		Currency: "USD",
		Rates:    []config.CommissionRate{{Tier: "Base", Coverage: "Member Only", Amount: 1000}},
	}))

	amount, err = svc.Calculate("Base", "Member Only")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), amount.Value)
	assert.NotSame(t, first, svc.calc.Load())
}
