package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Price
// columns are NUMERIC and travel as decimal strings in both directions.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, symbol, asset_type, owner,
	quantity, entry_price, stop_loss, take_profit,
	trailing_high, trailing_stop_pct,
	status, close_reason, exit_price, realized_pnl,
	opened_at, updated_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                         domain.Position
		assetType, status, reason string
		stopLoss, takeProfit, pct decimal.NullDecimal
		exitPrice, realizedPnL    decimal.NullDecimal
	)

	err := row.Scan(
		&p.ID, &p.Symbol, &assetType, &p.Owner,
		&p.Quantity, &p.EntryPrice, &stopLoss, &takeProfit,
		&p.TrailingHigh, &pct,
		&status, &reason, &exitPrice, &realizedPnL,
		&p.OpenedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.AssetType = domain.AssetType(assetType)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(reason)
	p.StopLoss = fromNull(stopLoss)
	p.TakeProfit = fromNull(takeProfit)
	p.TrailingStopPct = fromNull(pct)
	p.ExitPrice = fromNull(exitPrice)
	p.RealizedPnL = fromNull(realizedPnL)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, symbol, asset_type, owner,
			quantity, entry_price, stop_loss, take_profit,
			trailing_high, trailing_stop_pct,
			status, close_reason, opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10,
			$11, $12, $13, NOW()
		)`

	openedAt := p.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, string(p.AssetType), p.Owner,
		p.Quantity.String(), p.EntryPrice.String(), toNull(p.StopLoss), toNull(p.TakeProfit),
		p.TrailingHigh.String(), toNull(p.TrailingStopPct),
		string(p.Status), string(p.CloseReason), openedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns open positions for owner, newest first. An empty owner
// matches every position.
func (s *PositionStore) ListOpen(ctx context.Context, owner string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open' AND ($1 = '' OR owner = $1)
		 ORDER BY opened_at DESC, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListHistory returns positions for owner with pagination and optional
// opened_at filtering.
func (s *PositionStore) ListHistory(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE ($1 = '' OR owner = $1)`
	args := []any{owner}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC, id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns closed positions with closed_at before the
// cutoff, oldest first.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// UpdateTrailing ratchets the trailing high with GREATEST so a late or
// out-of-order write can never lower it. The stop-loss is replaced only when
// newStopLoss is non-nil and newHigh is not behind the stored high, so a
// stale write cannot move the stop either.
func (s *PositionStore) UpdateTrailing(ctx context.Context, id string, newHigh decimal.Decimal, newStopLoss *decimal.Decimal) error {
	const query = `
		UPDATE positions SET
			trailing_high = GREATEST(trailing_high, $2::numeric),
			stop_loss     = CASE WHEN $2::numeric >= trailing_high
			                     THEN COALESCE($3::numeric, stop_loss)
			                     ELSE stop_loss END,
			updated_at    = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, newHigh.String(), toNull(newStopLoss))
	if err != nil {
		return fmt.Errorf("postgres: update trailing %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrClosed(ctx, id)
	}
	return nil
}

// Close marks an open position closed with its exit details.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice decimal.Decimal, reason domain.CloseReason, pnl decimal.Decimal) error {
	const query = `
		UPDATE positions SET
			status       = 'closed',
			close_reason = $2,
			exit_price   = $3,
			realized_pnl = $4,
			closed_at    = NOW(),
			updated_at   = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, string(reason), exitPrice.String(), pnl.String())
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrClosed(ctx, id)
	}
	return nil
}

// missOrClosed explains why a guarded update touched no rows.
func (s *PositionStore) missOrClosed(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM positions WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: lookup position %s: %w", id, err)
	}
	return domain.ErrPositionClosed
}

func toNull(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func fromNull(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}
