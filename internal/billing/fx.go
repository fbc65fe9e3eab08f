package billing

import (
	"context"

	"github.com/smallbiznis/enrollment/internal/billing/repository"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/gateway"
	"go.uber.org/fx"
)

// Module provides the scheduler without starting it. Binaries that run
// billing in-process add RunModule.
var Module = fx.Module("billing",
	fx.Provide(
		ProvideConfig,
		repository.Provide,
		func(c *gateway.Client) Charger { return c },
		New,
	),
)

var RunModule = fx.Module("billing.run",
	fx.Invoke(StartScheduler),
)

func StartScheduler(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.Billing.Enabled {
		return
	}

	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go sched.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
