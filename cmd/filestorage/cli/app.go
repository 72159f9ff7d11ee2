package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/bleepstore/filestorage/internal/config"
	"github.com/bleepstore/filestorage/internal/logging"
	"github.com/bleepstore/filestorage/internal/metadata"
	"github.com/bleepstore/filestorage/internal/orchestrator"
	"github.com/bleepstore/filestorage/internal/pathbuilder"
	"github.com/bleepstore/filestorage/internal/storage"
)

// defaultConfigPath falls back to the built-in defaults when absent.
const defaultConfigPath = "filestorage.yaml"

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	registry *storage.Registry
	orch     *orchestrator.Orchestrator
	store    metadata.Store
	logs     io.Closer
}

// openApp loads the config and wires logging, storages, the orchestrator and
// the metadata store. The caller must Close the app.
func openApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil && opts.configPath == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Load("")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	a := &app{cfg: cfg, logs: logging.Setup(cfg.Logging, os.Stderr)}

	builder, err := pathbuilder.FromConfig(cfg.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build path rules: %w", err)
	}
	policy, err := orchestrator.ParseRemovePolicy(cfg.RemovePolicy)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.registry, err = storage.OpenAll(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open storages: %w", err)
	}
	a.orch = orchestrator.New(a.registry, builder,
		orchestrator.WithRemovePolicy(policy),
		orchestrator.WithLogger(slog.Default()),
	)

	a.store, err = metadata.Open(ctx, cfg.Metadata)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	if err := metadata.Attach(a.orch, a.store); err != nil {
		a.Close()
		return nil, err
	}

	slog.Debug("Application wired",
		"storages", a.registry.Names(),
		"default_storage", cfg.DefaultStorage,
		"metadata", cfg.Metadata.Engine,
		"remove_policy", policy.String(),
	)
	return a, nil
}

// Close releases the metadata store, the storages and the log file.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

// withApp runs fn against a freshly opened app.
func withApp(ctx context.Context, opts *rootOptions, fn func(*app) error) error {
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
