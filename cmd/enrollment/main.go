package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/billing"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/commission"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/enrollment"
	"github.com/smallbiznis/enrollment/internal/gateway"
	"github.com/smallbiznis/enrollment/internal/lock"
	"github.com/smallbiznis/enrollment/internal/member"
	"github.com/smallbiznis/enrollment/internal/migration"
	"github.com/smallbiznis/enrollment/internal/notification"
	"github.com/smallbiznis/enrollment/internal/observability"
	"github.com/smallbiznis/enrollment/internal/payment"
	"github.com/smallbiznis/enrollment/internal/ratelimit"
	"github.com/smallbiznis/enrollment/internal/redisclient"
	"github.com/smallbiznis/enrollment/internal/registration"
	"github.com/smallbiznis/enrollment/internal/server"
	"github.com/smallbiznis/enrollment/internal/subscription"
	"github.com/smallbiznis/enrollment/pkg/db"
	"go.uber.org/fx"
)

// The monolith serves the enrollment API and runs recurring billing in the
// same process.
func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		redisclient.Module,
		lock.Module,
		ratelimit.Module,
		gateway.Module,

		// Enrollment domains
		registration.Module,
		commission.Module,
		member.Module,
		subscription.Module,
		notification.Module,
		payment.Module,
		enrollment.Module,

		billing.Module,
		billing.RunModule,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
