package main

import (
	"context"
	"fmt"

	"github.com/kingrea/bedtime/internal/config"
	"github.com/kingrea/bedtime/internal/store"
)

// openBackend builds the persistence layer named by cfg.Backend.
func openBackend(ctx context.Context, cfg config.StoreConfig) (store.Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemoryBackend(), nil
	case "postgres":
		b, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "nats":
		b, err := store.OpenNATS(ctx, cfg.NATSURL, cfg.NATSBucket)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
