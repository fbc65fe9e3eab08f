package commission

import (
	"github.com/smallbiznis/enrollment/internal/commission/repository"
	"github.com/smallbiznis/enrollment/internal/commission/service"
	"github.com/smallbiznis/enrollment/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("commission.service",
	fx.Provide(config.NewCommissionTableHolder),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
