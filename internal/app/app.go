// Package app provides the top-level application lifecycle for exitguard. It
// wires stores, caches, the quote source, services and notifications, and
// starts the goroutines of the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/exitguard/internal/config"
	"github.com/alanyoungcy/exitguard/internal/pipeline"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// wire builds the dependencies once and registers their cleanup.
func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// Run wires all dependencies, selects the operating mode and blocks until ctx
// is cancelled or a mode goroutine fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "monitor":
		return a.MonitorMode(ctx, deps)
	case "server":
		return a.ServerMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	case "dry_run":
		return a.DryRunMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// ArchiveOnce runs a single archive pass and returns the number of positions
// written.
func (a *App) ArchiveOnce(ctx context.Context) (int64, error) {
	if !a.cfg.Archive.Enabled {
		return 0, fmt.Errorf("app: archive is disabled (set archive.enabled)")
	}
	deps, err := a.wire(ctx)
	if err != nil {
		return 0, err
	}
	job := pipeline.NewArchiveJob(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	return job.Run(ctx)
}

// Migrate applies the embedded PostgreSQL migrations and, when a ClickHouse
// DSN is configured, creates the evaluation journal table. It returns the
// names of newly applied migrations.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	pgClient, err := openPostgres(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}
	defer pgClient.Close()

	applied, err := pgClient.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}

	if a.cfg.ClickHouse.DSN != "" {
		conn, _, err := openJournal(ctx, a.cfg.ClickHouse.DSN)
		if err != nil {
			return applied, fmt.Errorf("app: migrate: %w", err)
		}
		_ = conn.Close()
	}
	return applied, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
