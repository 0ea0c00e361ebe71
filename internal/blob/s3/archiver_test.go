package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/exitguard/internal/domain"
	"github.com/alanyoungcy/exitguard/internal/store/memory"
)

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type fixedSource struct {
	positions []domain.Position
	before    time.Time
}

func (s *fixedSource) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	s.before = before
	return s.positions, nil
}

func closedAt(id string, ts time.Time) domain.Position {
	exit := decimal.RequireFromString("101.5")
	pnl := decimal.RequireFromString("15")
	return domain.Position{
		ID:           id,
		Symbol:       "AAPL",
		AssetType:    domain.AssetTypeStock,
		Quantity:     decimal.NewFromInt(10),
		EntryPrice:   decimal.NewFromInt(100),
		TrailingHigh: decimal.RequireFromString("102"),
		Status:       domain.PositionStatusClosed,
		CloseReason:  domain.CloseReasonTakeProfit,
		ExitPrice:    &exit,
		RealizedPnL:  &pnl,
		ClosedAt:     &ts,
	}
}

func countLines(t *testing.T, b []byte) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		n++
	}
	return n
}

func TestArchiveClosedPositionsPartitionsByMonth(t *testing.T) {
	w := newMemWriter()
	audit := memory.NewAuditStore()
	src := &fixedSource{positions: []domain.Position{
		closedAt("a", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)),
		closedAt("b", time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)),
		closedAt("c", time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)),
	}}
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	n, err := NewArchiver(w, src, audit).ArchiveClosedPositions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, cutoff, src.before)

	require.Contains(t, w.objects, "archive/positions/2025-01.jsonl")
	require.Contains(t, w.objects, "archive/positions/2025-02.jsonl")
	assert.Equal(t, 2, countLines(t, w.objects["archive/positions/2025-01.jsonl"]))
	assert.Equal(t, 1, countLines(t, w.objects["archive/positions/2025-02.jsonl"]))
	assert.Equal(t, "application/x-ndjson", w.types["archive/positions/2025-01.jsonl"])

	entries, err := audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.positions", entries[0].Event)
	assert.EqualValues(t, 3, entries[0].Detail["count"])
}

func TestArchiveRowsKeepDecimalStrings(t *testing.T) {
	w := newMemWriter()
	src := &fixedSource{positions: []domain.Position{
		closedAt("a", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)),
	}}

	_, err := NewArchiver(w, src, memory.NewAuditStore()).ArchiveClosedPositions(context.Background(), time.Now())
	require.NoError(t, err)

	var row map[string]any
	line := bytes.TrimSpace(w.objects["archive/positions/2025-01.jsonl"])
	require.NoError(t, json.Unmarshal(line, &row))
	assert.Equal(t, "101.5", row["exit_price"])
	assert.Equal(t, "TAKE_PROFIT", row["close_reason"])
	assert.Nil(t, row["stop_loss"])
}

func TestArchiveNothingToDo(t *testing.T) {
	w := newMemWriter()
	audit := memory.NewAuditStore()

	n, err := NewArchiver(w, &fixedSource{}, audit).ArchiveClosedPositions(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
	assert.Empty(t, audit.Events())
}
