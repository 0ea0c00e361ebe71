package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

const createEvaluations = `
	CREATE TABLE IF NOT EXISTS evaluations (
		position_id   String,
		symbol        LowCardinality(String),
		price         Decimal(38, 10),
		stop_loss     Nullable(Decimal(38, 10)),
		take_profit   Nullable(Decimal(38, 10)),
		trailing_high Decimal(38, 10),
		triggered     Bool,
		trigger_type  LowCardinality(String),
		new_high      Nullable(Decimal(38, 10)),
		new_stop_loss Nullable(Decimal(38, 10)),
		evaluated_at  DateTime64(3, 'UTC')
	) ENGINE = MergeTree()
	ORDER BY (position_id, evaluated_at)`

// EvaluationJournal implements domain.EvaluationJournal on a MergeTree table.
type EvaluationJournal struct {
	conn *Conn
}

// NewEvaluationJournal creates a journal backed by conn.
func NewEvaluationJournal(conn *Conn) *EvaluationJournal {
	return &EvaluationJournal{conn: conn}
}

var _ domain.EvaluationJournal = (*EvaluationJournal)(nil)

// EnsureSchema creates the evaluations table when it does not exist.
func (j *EvaluationJournal) EnsureSchema(ctx context.Context) error {
	if err := j.conn.Exec(ctx, createEvaluations); err != nil {
		return fmt.Errorf("clickhouse: create evaluations table: %w", err)
	}
	return nil
}

// Record appends one evaluation row.
func (j *EvaluationJournal) Record(ctx context.Context, rec domain.EvaluationRecord) error {
	batch, err := j.conn.PrepareBatch(ctx, `
		INSERT INTO evaluations (
			position_id, symbol, price, stop_loss, take_profit, trailing_high,
			triggered, trigger_type, new_high, new_stop_loss, evaluated_at
		)`)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}

	evaluatedAt := rec.EvaluatedAt
	if evaluatedAt.IsZero() {
		evaluatedAt = time.Now().UTC()
	}

	if err := batch.Append(
		rec.PositionID, rec.Symbol, rec.Price, rec.StopLoss, rec.TakeProfit, rec.TrailingHigh,
		rec.Result.Triggered, string(rec.Result.TriggerType), rec.Result.NewHigh, rec.Result.NewStopLoss,
		evaluatedAt,
	); err != nil {
		return fmt.Errorf("clickhouse: append evaluation: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send evaluation: %w", err)
	}
	return nil
}

// ListByPosition returns the most recent evaluations for a position, newest
// first. limit <= 0 returns every row.
func (j *EvaluationJournal) ListByPosition(ctx context.Context, positionID string, limit int) ([]domain.EvaluationRecord, error) {
	query := `
		SELECT position_id, symbol, price, stop_loss, take_profit, trailing_high,
			triggered, trigger_type, new_high, new_stop_loss, evaluated_at
		FROM evaluations
		WHERE position_id = ?
		ORDER BY evaluated_at DESC`
	args := []any{positionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, uint64(limit))
	}

	rows, err := j.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: query evaluations: %w", err)
	}
	defer rows.Close()

	var out []domain.EvaluationRecord
	for rows.Next() {
		var (
			rec                  domain.EvaluationRecord
			stopLoss, takeProfit *decimal.Decimal
			newHigh, newStopLoss *decimal.Decimal
			triggerType          string
		)
		if err := rows.Scan(
			&rec.PositionID, &rec.Symbol, &rec.Price, &stopLoss, &takeProfit, &rec.TrailingHigh,
			&rec.Result.Triggered, &triggerType, &newHigh, &newStopLoss, &rec.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("clickhouse: scan evaluation: %w", err)
		}
		rec.StopLoss = stopLoss
		rec.TakeProfit = takeProfit
		rec.Result.TriggerType = domain.TriggerType(triggerType)
		rec.Result.NewHigh = newHigh
		rec.Result.NewStopLoss = newStopLoss
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse: iterate evaluations: %w", err)
	}
	return out, nil
}
