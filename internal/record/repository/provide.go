package repository

import (
	"context"

	"github.com/smallbiznis/energyledger/internal/clock"
	"github.com/smallbiznis/energyledger/internal/config"
	"github.com/smallbiznis/energyledger/internal/observability/metrics"
	"github.com/smallbiznis/energyledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Open builds the store selected by STORE_DRIVER: a GormStore for sqlite,
// postgres and mysql, otherwise a FileStore under cfg.DataDir. The returned
// close function releases the database handle and is a no-op for files.
func Open(cfg config.Config, clk clock.Clock, log *zap.Logger, opts ...Option) (Repository, func() error, error) {
	if !cfg.UsesDatabase() {
		return NewFileStore(cfg.DataDir, clk, opts...), func() error { return nil }, nil
	}

	gdb, err := db.Open(db.FromAppConfig(cfg), log)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return NewGormStore(gdb, clk, opts...), closeFn, nil
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Clock     clock.Clock
	Metrics   *metrics.StoreMetrics `optional:"true"`
	Log       *zap.Logger
}

// Provide opens the configured store and loads it on start. A failed load is
// logged; the store stays unloaded and retries on first use.
func Provide(p Params) (Repository, error) {
	log := p.Log.Named("record.repository")

	repo, closeFn, err := Open(p.Config, p.Clock, p.Log, WithStoreMetrics(p.Metrics))
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := repo.Load(ctx); err != nil {
				log.Error("record store load failed", zap.String("driver", p.Config.StoreDriver), zap.Error(err))
				return nil
			}
			log.Info("record store loaded", zap.String("driver", p.Config.StoreDriver))
			return nil
		},
		OnStop: func(context.Context) error {
			return closeFn()
		},
	})
	return repo, nil
}
