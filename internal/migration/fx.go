package migration

import (
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		switch db.NormalizeType(cfg.DBType) {
		case "sqlite":
			log.Info("applying sqlite schema", zap.String("path", cfg.DBPath))
			return ApplySQLiteSchema(conn)
		case "postgres", "":
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		default:
			log.Warn("no embedded migrations for database type", zap.String("type", cfg.DBType))
			return nil
		}
	}),
)
