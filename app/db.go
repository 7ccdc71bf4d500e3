package app

import (
	"context"

	"github.com/fiffu/feedrelay/config"
	"github.com/fiffu/feedrelay/lib/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func NewDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *gorm.DB {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		log.Sugar().Panicw("failed to connect database", "err", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db
}

func NewLedger(cfg *config.Config, log *zap.Logger, db *gorm.DB) *store.Ledger {
	return store.NewLedger(db, log, cfg.Poller.DedupRetention)
}
