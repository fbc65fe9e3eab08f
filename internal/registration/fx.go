package registration

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/registration/domain"
	"github.com/smallbiznis/enrollment/internal/registration/service"
	"github.com/smallbiznis/enrollment/internal/registration/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("registration.service",
	fx.Provide(provideStore),
	fx.Provide(service.NewService),
)

type storeParams struct {
	fx.In

	Cfg    config.Config
	Log    *zap.Logger
	Clock  clock.Clock
	Client *redis.Client `optional:"true"`
}

func provideStore(p storeParams) domain.Store {
	if p.Cfg.Enrollment.DraftStore == "redis" && p.Client != nil {
		return store.NewRedisStore(p.Client)
	}
	if p.Cfg.Enrollment.DraftStore == "redis" {
		p.Log.Warn("redis draft store requested but redis is disabled; using memory store")
	}
	return store.NewMemoryStore(p.Clock)
}
