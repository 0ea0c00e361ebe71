package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/exitguard/internal/domain"
	"github.com/alanyoungcy/exitguard/internal/exit"
	"github.com/alanyoungcy/exitguard/internal/notify"
)

// MonitorConfig controls the evaluation loop.
type MonitorConfig struct {
	Interval    time.Duration
	Concurrency int
	LockTTL     time.Duration
	MaxPriceAge time.Duration
	Owner       string
}

// CycleStats summarises one monitoring pass. Evaluated includes triggered
// and ratcheted positions.
type CycleStats struct {
	Positions int
	Symbols   int
	Evaluated int
	Triggered int
	Ratcheted int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

// Outcome is the result of evaluating one position.
type Outcome struct {
	Position domain.Position
	Price    decimal.Decimal
	Result   domain.EvaluationResult
}

// Monitor periodically prices every open position and applies the exit
// evaluator. A position is only ever evaluated under its lock, so two
// monitors sharing a lock manager never race on the same position.
type Monitor struct {
	positions *PositionService
	prices    *PriceService
	locks     domain.LockManager
	journal   domain.EvaluationJournal
	notifier  Notifier
	cfg       MonitorConfig
	logger    *slog.Logger
}

// NewMonitor creates a Monitor. journal and notifier may be nil.
func NewMonitor(
	positions *PositionService,
	prices *PriceService,
	locks domain.LockManager,
	journal domain.EvaluationJournal,
	notifier Notifier,
	cfg MonitorConfig,
	logger *slog.Logger,
) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Monitor{
		positions: positions,
		prices:    prices,
		locks:     locks,
		journal:   journal,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "monitor")),
	}
}

// Run evaluates all open positions immediately and then once per interval
// until ctx ends. Call in a goroutine.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "monitor: started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Int("concurrency", m.cfg.Concurrency),
	)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.runCycle(ctx)
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "monitor: stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) runCycle(ctx context.Context) {
	stats, err := m.Cycle(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.ErrorContext(ctx, "monitor: cycle failed", slog.String("error", err.Error()))
		if m.notifier != nil {
			_ = m.notifier.Notify(ctx, notify.EventError, "Monitor cycle failed", err.Error())
		}
		return
	}

	level := slog.LevelDebug
	if stats.Triggered > 0 || stats.Failed > 0 {
		level = slog.LevelInfo
	}
	m.logger.Log(ctx, level, "monitor: cycle complete",
		slog.Int("positions", stats.Positions),
		slog.Int("symbols", stats.Symbols),
		slog.Int("evaluated", stats.Evaluated),
		slog.Int("triggered", stats.Triggered),
		slog.Int("ratcheted", stats.Ratcheted),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Duration("duration", stats.Duration),
	)
}

// Cycle runs one monitoring pass: each distinct symbol is priced once and
// its positions are evaluated concurrently. A failure on one position or
// symbol is counted and does not stop the others; only failing to list
// positions fails the cycle.
func (m *Monitor) Cycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	var stats CycleStats

	open, err := m.positions.ListOpen(ctx, m.cfg.Owner)
	if err != nil {
		return stats, fmt.Errorf("monitor: list open positions: %w", err)
	}
	stats.Positions = len(open)

	bySymbol := make(map[string][]string)
	for _, p := range open {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p.ID)
	}
	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	stats.Symbols = len(symbols)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(m.cfg.Concurrency)

	for _, sym := range symbols {
		ids := bySymbol[sym]

		q, err := m.prices.Current(ctx, sym, m.cfg.MaxPriceAge)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			m.logger.WarnContext(ctx, "monitor: price unavailable",
				slog.String("symbol", sym),
				slog.Int("positions", len(ids)),
				slog.String("error", err.Error()),
			)
			mu.Lock()
			if errors.Is(err, domain.ErrStalePrice) {
				stats.Skipped += len(ids)
			} else {
				stats.Failed += len(ids)
			}
			mu.Unlock()
			continue
		}

		for _, id := range ids {
			price := q.Price
			g.Go(func() error {
				out, err := m.evaluate(ctx, id, price)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrPositionClosed):
					stats.Skipped++
				case err != nil:
					stats.Failed++
					m.logger.ErrorContext(ctx, "monitor: evaluate position failed",
						slog.String("position_id", id),
						slog.String("error", err.Error()),
					)
				default:
					stats.Evaluated++
					if out.Result.Triggered {
						stats.Triggered++
					}
					if out.Result.Ratcheted() {
						stats.Ratcheted++
					}
				}
				return nil
			})
		}
	}

	_ = g.Wait()
	stats.Duration = time.Since(start)
	return stats, ctx.Err()
}

// EvaluateOne prices and evaluates a single position now. It returns
// domain.ErrLockHeld when another evaluation of the position is in flight
// and domain.ErrPositionClosed when it is no longer open.
func (m *Monitor) EvaluateOne(ctx context.Context, id string) (Outcome, error) {
	pos, err := m.positions.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if !pos.IsOpen() {
		return Outcome{Position: pos}, fmt.Errorf("monitor: evaluate %q: %w", id, domain.ErrPositionClosed)
	}

	q, err := m.prices.Current(ctx, pos.Symbol, m.cfg.MaxPriceAge)
	if err != nil {
		return Outcome{Position: pos}, fmt.Errorf("monitor: price %q: %w", pos.Symbol, err)
	}
	return m.evaluate(ctx, id, q.Price)
}

// evaluate runs lock, fresh read, evaluate, journal and apply for one
// position at price.
func (m *Monitor) evaluate(ctx context.Context, id string, price decimal.Decimal) (Outcome, error) {
	unlock, err := m.locks.Acquire(ctx, "position:"+id, m.cfg.LockTTL)
	if err != nil {
		return Outcome{}, fmt.Errorf("monitor: lock position %q: %w", id, err)
	}
	defer unlock()

	// Re-read under the lock: the listing may predate another evaluation.
	pos, err := m.positions.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if !pos.IsOpen() {
		return Outcome{Position: pos}, fmt.Errorf("monitor: evaluate %q: %w", id, domain.ErrPositionClosed)
	}

	result := exit.Evaluate(price, pos.State())

	if m.journal != nil {
		rec := domain.EvaluationRecord{
			PositionID:   pos.ID,
			Symbol:       pos.Symbol,
			Price:        price,
			StopLoss:     pos.StopLoss,
			TakeProfit:   pos.TakeProfit,
			TrailingHigh: pos.TrailingHigh,
			Result:       result,
			EvaluatedAt:  time.Now().UTC(),
		}
		if err := m.journal.Record(ctx, rec); err != nil {
			m.logger.WarnContext(ctx, "monitor: journal record failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	updated, err := m.positions.ApplyEvaluation(ctx, pos, price, result)
	if err != nil {
		return Outcome{Position: pos, Price: price, Result: result}, err
	}
	return Outcome{Position: updated, Price: price, Result: result}, nil
}
