package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bleepstore/filestorage/internal/config"
)

// Open creates the store selected by cfg.Engine, wrapped in a cache when
// cfg.Cache.Size is positive.
func Open(ctx context.Context, cfg config.MetadataConfig) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Engine {
	case "sqlite", "":
		store, err = NewSQLiteStore(cfg.SQLite.Path)
	case "memory":
		store = NewMemoryStore()
	case "local":
		store, err = NewLocalStore(cfg.Local)
	case "dynamodb":
		store, err = NewDynamoDBStore(ctx, cfg.DynamoDB)
	case "firestore":
		store, err = NewFirestoreStore(ctx, cfg.Firestore)
	case "cosmos":
		store, err = NewCosmosStore(ctx, cfg.Cosmos)
	default:
		return nil, fmt.Errorf("unknown metadata engine %q", cfg.Engine)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Size > 0 {
		store = NewCached(store, cfg.Cache.Size, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}
	slog.Debug("Metadata store opened", "engine", cfg.Engine, "cache_size", cfg.Cache.Size)
	return store, nil
}
