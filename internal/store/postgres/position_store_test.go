package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

func testPosition(owner string) domain.Position {
	return domain.Position{
		ID:              uuid.NewString(),
		Symbol:          "AAPL250117C00150000",
		AssetType:       domain.AssetTypeOption,
		Owner:           owner,
		Quantity:        decimal.NewFromInt(2),
		EntryPrice:      decimal.RequireFromString("4.25"),
		StopLoss:        ptr(decimal.RequireFromString("3.4")),
		TrailingHigh:    decimal.RequireFromString("4.25"),
		TrailingStopPct: ptr(decimal.NewFromInt(20)),
		Status:          domain.PositionStatusOpen,
		OpenedAt:        time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPositionStore_Lifecycle(t *testing.T) {
	client := setupTestDB(t)
	store := NewPositionStore(client.Pool())
	audit := NewAuditStore(client.Pool())
	ctx := context.Background()

	pos := testPosition("alice")
	require.NoError(t, store.Create(ctx, pos))
	assert.ErrorIs(t, store.Create(ctx, pos), domain.ErrAlreadyExists)

	got, err := store.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.Symbol, got.Symbol)
	assert.Equal(t, domain.AssetTypeOption, got.AssetType)
	assert.True(t, pos.EntryPrice.Equal(got.EntryPrice))
	require.NotNil(t, got.StopLoss)
	assert.True(t, decimal.RequireFromString("3.4").Equal(*got.StopLoss))
	assert.Nil(t, got.TakeProfit)
	assert.Nil(t, got.ClosedAt)

	// Ratchet up, then try to move the high and the stop backwards.
	require.NoError(t, store.UpdateTrailing(ctx, pos.ID, decimal.RequireFromString("5.5"), ptr(decimal.RequireFromString("4.4"))))
	require.NoError(t, store.UpdateTrailing(ctx, pos.ID, decimal.RequireFromString("5.0"), nil))
	require.NoError(t, store.UpdateTrailing(ctx, pos.ID, decimal.RequireFromString("5.0"), ptr(decimal.RequireFromString("4.0"))))

	got, err = store.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("5.5").Equal(got.TrailingHigh), "high %s", got.TrailingHigh)
	assert.True(t, decimal.RequireFromString("4.4").Equal(*got.StopLoss), "stop %s", got.StopLoss)

	open, err := store.ListOpen(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, open, 1)

	pnl := got.PnL(decimal.RequireFromString("4.3"))
	require.NoError(t, store.Close(ctx, pos.ID, decimal.RequireFromString("4.3"), domain.CloseReasonStopLoss, pnl))
	assert.ErrorIs(t, store.Close(ctx, pos.ID, decimal.RequireFromString("4.3"), domain.CloseReasonStopLoss, pnl), domain.ErrPositionClosed)
	assert.ErrorIs(t, store.UpdateTrailing(ctx, pos.ID, decimal.NewFromInt(9), nil), domain.ErrPositionClosed)
	assert.ErrorIs(t, store.Close(ctx, uuid.NewString(), decimal.NewFromInt(1), domain.CloseReasonManual, decimal.Zero), domain.ErrNotFound)

	closed, err := store.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, closed.CloseReason)
	require.NotNil(t, closed.RealizedPnL)
	assert.True(t, decimal.RequireFromString("0.1").Equal(*closed.RealizedPnL))

	before, err := store.ListClosedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, before, 1)

	require.NoError(t, audit.Log(ctx, "position_closed", map[string]any{"id": pos.ID}))
	entries, err := audit.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, pos.ID, entries[0].Detail["id"])
}

func TestPositionStore_ListHistoryFiltersOwner(t *testing.T) {
	client := setupTestDB(t)
	store := NewPositionStore(client.Pool())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p := testPosition("bob")
		p.OpenedAt = p.OpenedAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Create(ctx, p))
	}
	require.NoError(t, store.Create(ctx, testPosition("carol")))

	page, err := store.ListHistory(ctx, "bob", domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].OpenedAt.After(page[1].OpenedAt))

	all, err := store.ListHistory(ctx, "", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/x?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "x"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}
