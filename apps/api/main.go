package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/commission"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/enrollment"
	"github.com/smallbiznis/enrollment/internal/gateway"
	"github.com/smallbiznis/enrollment/internal/member"
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

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redisclient.Module,

		// Core dependencies for the enrollment API
		ratelimit.Module,
		gateway.Module,
		registration.Module,
		commission.Module,
		member.Module,
		subscription.Module,
		notification.Module,
		payment.Module,
		enrollment.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
