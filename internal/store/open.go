package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nhle/inboxpilot/internal/model"
)

// Open returns the store selected by cfg.
func Open(
	ctx context.Context,
	cfg model.StoreConfig,
	log *slog.Logger,
) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path, log)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN, log)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
