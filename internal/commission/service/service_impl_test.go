package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/commission/domain"
	"github.com/smallbiznis/enrollment/internal/commission/repository"
	"github.com/smallbiznis/enrollment/internal/commission/service"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	tables, err := config.NewStaticCommissionTableHolder(config.DefaultCommissionTable())
	require.NoError(t, err)

	svc := service.NewService(service.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  testutil.NewNode(t, 1),
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Tables: tables,
		Repo:   repository.Provide(),
	})
	return svc, db
}

func TestCreateCommissionIsIdempotentPerMember(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	memberID := snowflake.ID(42)

	first, err := svc.Create(ctx, domain.CreateCommissionRequest{
		AgentID:      "agent-7",
		MemberID:     memberID,
		PlanTier:     "Base",
		CoverageType: "Member Only",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(900), first.Amount)
	assert.Equal(t, domain.PaymentStatusUnpaid, first.PaymentStatus)

	second, err := svc.Create(ctx, domain.CreateCommissionRequest{
		AgentID:      "agent-7",
		MemberID:     memberID,
		PlanTier:     "Base",
		CoverageType: "Member Only",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Table("commissions").Where("member_id = ?", memberID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateCommissionUnknownRateWritesNothing(t *testing.T) {
	svc, db := newService(t)

	_, err := svc.Create(context.Background(), domain.CreateCommissionRequest{
		AgentID:      "agent-7",
		MemberID:     snowflake.ID(43),
		PlanTier:     "Platinum",
		CoverageType: "Member Only",
	})
	require.ErrorIs(t, err, domain.ErrRateNotFound)

	var count int64
	require.NoError(t, db.Table("commissions").Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateCommissionValidatesInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateCommissionRequest{MemberID: 1, PlanTier: "Base", CoverageType: "Family"})
	assert.ErrorIs(t, err, domain.ErrInvalidAgent)

	_, err = svc.Create(ctx, domain.CreateCommissionRequest{AgentID: "a", PlanTier: "Base", CoverageType: "Family"})
	assert.ErrorIs(t, err, domain.ErrInvalidMember)
}

func TestGetByMemberIDNotFound(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.GetByMemberID(context.Background(), snowflake.ID(999))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
