package gateway

import (
	"github.com/smallbiznis/enrollment/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(func(cfg config.Config, log *zap.Logger) (*Client, error) {
		return NewClient(ConfigFrom(cfg.Gateway), log)
	}),
	fx.Provide(func(c *Client) *Signer { return c.Signer() }),
)
