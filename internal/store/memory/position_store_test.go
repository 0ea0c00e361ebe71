package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

func ptr[T any](v T) *T {
	return &v
}

func newPosition(id string, opened time.Time) domain.Position {
	return domain.Position{
		ID:           id,
		Symbol:       "NVDA",
		AssetType:    domain.AssetTypeStock,
		Owner:        "alice",
		Quantity:     decimal.NewFromInt(10),
		EntryPrice:   decimal.NewFromInt(100),
		StopLoss:     ptr(decimal.NewFromInt(90)),
		TrailingHigh: decimal.NewFromInt(100),
		Status:       domain.PositionStatusOpen,
		OpenedAt:     opened,
	}
}

func TestPositionStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()

	pos := newPosition("p1", time.Now())
	require.NoError(t, store.Create(ctx, pos))

	err := store.Create(ctx, pos)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "NVDA", got.Symbol)
	assert.True(t, decimal.NewFromInt(90).Equal(*got.StopLoss))

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionStore_ReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()
	require.NoError(t, store.Create(ctx, newPosition("p1", time.Now())))

	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	*got.StopLoss = decimal.NewFromInt(1)

	again, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(90).Equal(*again.StopLoss))
}

func TestPositionStore_UpdateTrailingNeverLowersHigh(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()
	require.NoError(t, store.Create(ctx, newPosition("p1", time.Now())))

	require.NoError(t, store.UpdateTrailing(ctx, "p1", decimal.NewFromInt(120), ptr(decimal.NewFromInt(108))))
	require.NoError(t, store.UpdateTrailing(ctx, "p1", decimal.NewFromInt(110), nil))

	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(120).Equal(got.TrailingHigh))
	assert.True(t, decimal.NewFromInt(108).Equal(*got.StopLoss))

	assert.ErrorIs(t, store.UpdateTrailing(ctx, "nope", decimal.NewFromInt(1), nil), domain.ErrNotFound)
}

func TestPositionStore_UpdateTrailingIgnoresStaleStop(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()
	require.NoError(t, store.Create(ctx, newPosition("p1", time.Now())))

	require.NoError(t, store.UpdateTrailing(ctx, "p1", decimal.NewFromInt(120), ptr(decimal.NewFromInt(114))))
	// Arrives late, computed from an older high.
	require.NoError(t, store.UpdateTrailing(ctx, "p1", decimal.NewFromInt(110), ptr(decimal.NewFromInt(104))))

	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(120).Equal(got.TrailingHigh))
	assert.True(t, decimal.NewFromInt(114).Equal(*got.StopLoss), "stop %s", got.StopLoss)

	// Same high is not stale.
	require.NoError(t, store.UpdateTrailing(ctx, "p1", decimal.NewFromInt(120), ptr(decimal.NewFromInt(115))))
	got, err = store.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(115).Equal(*got.StopLoss))
}

func TestPositionStore_CloseOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()
	require.NoError(t, store.Create(ctx, newPosition("p1", time.Now())))

	err := store.Close(ctx, "p1", decimal.NewFromInt(89), domain.CloseReasonStopLoss, decimal.NewFromInt(-110))
	require.NoError(t, err)

	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, got.CloseReason)
	require.NotNil(t, got.ClosedAt)

	err = store.Close(ctx, "p1", decimal.NewFromInt(89), domain.CloseReasonStopLoss, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrPositionClosed)

	err = store.UpdateTrailing(ctx, "p1", decimal.NewFromInt(200), nil)
	assert.ErrorIs(t, err, domain.ErrPositionClosed)

	open, err := store.ListOpen(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPositionStore_ListHistoryPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Create(ctx, newPosition(id, base.Add(time.Duration(i)*time.Hour))))
	}

	page, err := store.ListHistory(ctx, "alice", domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	none, err := store.ListHistory(ctx, "bob", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPositionStore_ListClosedBefore(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()
	require.NoError(t, store.Create(ctx, newPosition("a", time.Now())))
	require.NoError(t, store.Create(ctx, newPosition("b", time.Now())))
	require.NoError(t, store.Close(ctx, "a", decimal.NewFromInt(95), domain.CloseReasonManual, decimal.NewFromInt(-50)))

	closed, err := store.ListClosedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "a", closed[0].ID)

	closed, err = store.ListClosedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, closed)
}
