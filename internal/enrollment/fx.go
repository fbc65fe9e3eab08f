package enrollment

import (
	"github.com/smallbiznis/enrollment/internal/enrollment/repository"
	"github.com/smallbiznis/enrollment/internal/enrollment/service"
	"github.com/smallbiznis/enrollment/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("enrollment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(v *webhook.Verifier) service.CallbackVerifier { return v }),
	fx.Provide(service.NewFinalizer),
	fx.Provide(service.NewService),
)
