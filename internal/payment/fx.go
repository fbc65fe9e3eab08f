package payment

import (
	"github.com/smallbiznis/enrollment/internal/gateway"
	"github.com/smallbiznis/enrollment/internal/payment/repository"
	paymentservice "github.com/smallbiznis/enrollment/internal/payment/service"
	"github.com/smallbiznis/enrollment/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(c *gateway.Client) paymentservice.SessionGateway { return c }),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewVerifier),
)
