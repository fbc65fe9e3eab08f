package notification

import (
	"github.com/smallbiznis/enrollment/internal/notification/repository"
	"github.com/smallbiznis/enrollment/internal/notification/service"
	"github.com/smallbiznis/enrollment/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	email.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
