package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bleepstore/filestorage/internal/config"
)

// Open creates the backend described by cfg.
func Open(ctx context.Context, name string, cfg config.StorageConfig) (StorageBackend, error) {
	var (
		backend StorageBackend
		err     error
	)
	switch cfg.Kind {
	case config.KindLocal, "":
		backend, err = NewLocalBackend(cfg.Local.RootDir)
	case config.KindMemory:
		backend, err = NewMemoryBackend(MemoryOptions{
			MaxSizeBytes:     cfg.Memory.MaxSizeBytes,
			Persistence:      cfg.Memory.Persistence,
			SnapshotPath:     cfg.Memory.SnapshotPath,
			SnapshotInterval: time.Duration(cfg.Memory.SnapshotIntervalSeconds) * time.Second,
		})
	case config.KindSQLite:
		backend, err = NewSQLiteBackend(cfg.SQLite.Path)
	case config.KindAWS:
		backend, err = NewAWSBackend(ctx, AWSOptions{
			Bucket:          cfg.AWS.Bucket,
			Region:          cfg.AWS.Region,
			Prefix:          cfg.AWS.Prefix,
			EndpointURL:     cfg.AWS.EndpointURL,
			UsePathStyle:    cfg.AWS.UsePathStyle,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
		})
	case config.KindGCP:
		backend, err = NewGCPBackend(ctx, GCPOptions{
			Bucket:          cfg.GCP.Bucket,
			Project:         cfg.GCP.Project,
			Prefix:          cfg.GCP.Prefix,
			CredentialsFile: cfg.GCP.CredentialsFile,
		})
	case config.KindAzure:
		backend, err = NewAzureBackend(ctx, AzureOptions{
			Container:          cfg.Azure.Container,
			AccountURL:         cfg.Azure.ResolvedAccountURL(),
			Prefix:             cfg.Azure.Prefix,
			ConnectionString:   cfg.Azure.ConnectionString,
			UseManagedIdentity: cfg.Azure.UseManagedIdentity,
		})
	default:
		return nil, fmt.Errorf("storage %s: unknown kind %q", name, cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", name, err)
	}
	slog.Debug("Storage opened", "name", name, "kind", cfg.Kind)
	return backend, nil
}

// OpenAll creates a Registry with every configured storage. Backends opened
// before a failure are closed.
func OpenAll(ctx context.Context, cfg *config.Config) (*Registry, error) {
	reg := NewRegistry()
	for _, name := range cfg.StorageNames() {
		backend, err := Open(ctx, name, cfg.Storages[name])
		if err != nil {
			reg.Close()
			return nil, err
		}
		reg.Register(name, backend)
	}
	return reg, nil
}
