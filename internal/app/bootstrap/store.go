package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/badgerstore"
	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/jsonfile"
	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/postgres"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

// OpenStore opens the order repository selected by cfg.StoreDriver. Postgres
// schemas are migrated before the repository is returned.
func OpenStore(ctx context.Context, cfg Config, logger *slog.Logger) (ports.OrderRepository, error) {
	switch cfg.StoreDriver {
	case StoreJSON:
		logger.Info("using json file store", "path", cfg.OrdersFile)
		return jsonfile.NewRepository(cfg.OrdersFile), nil
	case StorePostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrations(ctx, db); err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("using postgres store")
		return postgres.NewOrderRepository(db), nil
	case StoreBadger:
		repo, err := badgerstore.Open(cfg.BadgerDir)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		logger.Info("using badger store", "dir", cfg.BadgerDir)
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
