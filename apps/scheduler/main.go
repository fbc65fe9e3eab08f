package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/billing"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/gateway"
	"github.com/smallbiznis/enrollment/internal/lock"
	"github.com/smallbiznis/enrollment/internal/notification"
	"github.com/smallbiznis/enrollment/internal/observability"
	"github.com/smallbiznis/enrollment/internal/redisclient"
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
		lock.Module,
		gateway.Module,

		// Domain services required by billing
		subscription.Module,
		notification.Module,
		billing.Module,

		// No server module!
		billing.RunModule,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
