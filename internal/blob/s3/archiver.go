package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

// multipartThreshold is the payload size above which uploads switch to the
// multipart uploader.
const multipartThreshold = 64 * 1024 * 1024

// ClosedPositionSource lists closed positions for archival.
type ClosedPositionSource interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// ArchiveImpl implements domain.Archiver by exporting closed positions as
// JSONL, one object per calendar month of closing, and recording each run in
// the audit log.
//
// Archived rows are not deleted from the primary store. Each run rewrites
// the month files it touches with the full set for that month, so repeated
// runs are idempotent.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	positions ClosedPositionSource
	audit     domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, positions ClosedPositionSource, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		positions: positions,
		audit:     audit,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// archivedPosition is the JSONL row layout.
type archivedPosition struct {
	ID              string           `json:"id"`
	Symbol          string           `json:"symbol"`
	AssetType       string           `json:"asset_type"`
	Owner           string           `json:"owner"`
	Quantity        decimal.Decimal  `json:"quantity"`
	EntryPrice      decimal.Decimal  `json:"entry_price"`
	StopLoss        *decimal.Decimal `json:"stop_loss"`
	TakeProfit      *decimal.Decimal `json:"take_profit"`
	TrailingHigh    decimal.Decimal  `json:"trailing_high"`
	TrailingStopPct *decimal.Decimal `json:"trailing_stop_pct"`
	CloseReason     string           `json:"close_reason"`
	ExitPrice       *decimal.Decimal `json:"exit_price"`
	RealizedPnL     *decimal.Decimal `json:"realized_pnl"`
	OpenedAt        time.Time        `json:"opened_at"`
	ClosedAt        *time.Time       `json:"closed_at"`
}

func toArchived(p domain.Position) archivedPosition {
	return archivedPosition{
		ID:              p.ID,
		Symbol:          p.Symbol,
		AssetType:       string(p.AssetType),
		Owner:           p.Owner,
		Quantity:        p.Quantity,
		EntryPrice:      p.EntryPrice,
		StopLoss:        p.StopLoss,
		TakeProfit:      p.TakeProfit,
		TrailingHigh:    p.TrailingHigh,
		TrailingStopPct: p.TrailingStopPct,
		CloseReason:     string(p.CloseReason),
		ExitPrice:       p.ExitPrice,
		RealizedPnL:     p.RealizedPnL,
		OpenedAt:        p.OpenedAt,
		ClosedAt:        p.ClosedAt,
	}
}

// ArchiveClosedPositions uploads every position closed before the cutoff to
// archive/positions/YYYY-MM.jsonl and returns how many rows were written.
func (a *ArchiveImpl) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]archivedPosition)
	for _, p := range positions {
		month := before.UTC().Format("2006-01")
		if p.ClosedAt != nil {
			month = p.ClosedAt.UTC().Format("2006-01")
		}
		byMonth[month] = append(byMonth[month], toArchived(p))
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	var (
		count int64
		paths []string
	)
	for _, month := range months {
		rows := byMonth[month]
		buf, err := marshalJSONL(rows)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive positions marshal: %w", err)
		}

		path := archivePath("positions", month)
		if err := a.upload(ctx, path, buf); err != nil {
			return count, err
		}
		count += int64(len(rows))
		paths = append(paths, path)
	}

	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"paths":  paths,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive positions audit log: %w", err)
	}

	return count, nil
}

func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	var err error
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive positions upload %s: %w", path, err)
	}
	return nil
}

// archivePath builds the object key for one month of archived records:
//
//	archive/positions/2025-01.jsonl
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
