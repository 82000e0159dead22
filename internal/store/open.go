// internal/store/open.go
package store

import (
	"context"
	"fmt"
	"log/slog"

	"libinventory/internal/config"
	"libinventory/internal/inventory"
)

// Open builds the repository selected by cfg. SQL backends get their
// schema ensured and a circuit breaker in front. The returned close
// function releases the underlying connection.
func Open(ctx context.Context, cfg config.Store, logger *slog.Logger) (inventory.Repository, func() error, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), func() error { return nil }, nil
	case DriverPostgres, DriverSQLite:
		sqlStore, err := OpenSQL(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := sqlStore.EnsureSchema(ctx); err != nil {
			_ = sqlStore.Close()
			return nil, nil, err
		}

		repo := NewBreakerStore(sqlStore, BreakerSettings{
			Name:        "book-store-" + cfg.Driver,
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
			Logger:      logger,
		})
		return repo, sqlStore.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
