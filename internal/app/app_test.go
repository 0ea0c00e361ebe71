package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/exitguard/internal/config"
	memstore "github.com/alanyoungcy/exitguard/internal/store/memory"
)

func dryRunConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "dry_run"
	cfg.Server.Enabled = false
	cfg.Monitor.Interval = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Notify.TelegramToken = "token"
	cfg.Notify.TelegramChatID = "chat"
	return &cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestWireDryRunUsesMemoryBackends(t *testing.T) {
	cfg := dryRunConfig()

	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memstore.PositionStore{}, deps.PositionStore)
	assert.IsType(t, &memstore.EvaluationJournal{}, deps.Journal)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.HealthChecks)
	assert.NotNil(t, deps.Monitor)
	assert.False(t, deps.Notifier.Enabled("position_closed"), "dry run sends no notifications")
}

func TestRunDryRunStopsOnCancel(t *testing.T) {
	a := New(dryRunConfig(), discardLogger())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := a.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestArchiveOnceRequiresEnabledArchive(t *testing.T) {
	a := New(dryRunConfig(), discardLogger())
	defer a.Close()

	_, err := a.ArchiveOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive is disabled")
}
