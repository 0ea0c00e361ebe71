package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/exitguard/internal/pipeline"
	"github.com/alanyoungcy/exitguard/internal/server"
	"github.com/alanyoungcy/exitguard/internal/server/handler"
	"github.com/alanyoungcy/exitguard/internal/server/ws"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// MonitorMode runs the evaluation loop only.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Monitor.Run(ctx)
	})
	return g.Wait()
}

// ServerMode serves the HTTP API and WebSocket hub. Positions are only
// evaluated on request.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// FullMode runs the monitor, the HTTP API and, when archiving is enabled,
// the archive scheduler.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Monitor.Run(ctx)
	})

	var triggerCh chan struct{}
	if deps.Archiver != nil {
		triggerCh = make(chan struct{}, 1)
		job := pipeline.NewArchiveJob(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		sched, err := pipeline.NewArchiveScheduler(job, a.cfg.Archive.Cron, triggerCh, a.logger)
		if err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
		g.Go(func() error {
			return sched.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, triggerCh)
	}

	return g.Wait()
}

// DryRunMode runs the monitor against in-memory state. The HTTP API, when
// enabled, is the only way to open positions.
func (a *App) DryRunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dry run mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Monitor.Run(ctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, nil)
	}

	return g.Wait()
}

// startHTTPServer adds the WebSocket hub and HTTP server goroutines to g.
// The server is shut down gracefully when ctx ends. archiveTrigger is
// optional; when non-nil POST /api/archive/trigger sends on it.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	archiveTrigger chan<- struct{},
) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		OpenPositions: func(ctx context.Context) (int, error) {
			open, err := deps.Positions.ListOpen(ctx, "")
			return len(open), err
		},
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.HealthChecks, a.logger),
		Positions: handler.NewPositionHandler(
			deps.Positions,
			deps.Monitor,
			deps.Prices,
			deps.Journal,
			a.cfg.Monitor.MaxPriceAge.Duration,
			a.logger,
		),
		Evaluate: handler.NewEvaluateHandler(a.logger),
	}
	if archiveTrigger != nil {
		handlers.Archive = handler.NewArchiveHandler(archiveTrigger, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
