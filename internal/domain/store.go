package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions and their trailing-stop state.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context, owner string) ([]Position, error)
	ListHistory(ctx context.Context, owner string, opts ListOpts) ([]Position, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
	// UpdateTrailing persists a ratcheted trailing high and, when non-nil, the
	// recomputed stop-loss. The stored high never decreases, and a write whose
	// high is behind the stored one leaves the stop-loss untouched.
	UpdateTrailing(ctx context.Context, id string, newHigh decimal.Decimal, newStopLoss *decimal.Decimal) error
	// Close marks an open position closed. It returns ErrPositionClosed when
	// the position was already closed.
	Close(ctx context.Context, id string, exitPrice decimal.Decimal, reason CloseReason, pnl decimal.Decimal) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// EvaluationJournal records every monitored evaluation for later analysis.
type EvaluationJournal interface {
	Record(ctx context.Context, rec EvaluationRecord) error
	ListByPosition(ctx context.Context, positionID string, limit int) ([]EvaluationRecord, error)
}
