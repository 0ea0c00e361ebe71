package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitguard/internal/domain"
	"github.com/alanyoungcy/exitguard/internal/exit"
	"github.com/alanyoungcy/exitguard/internal/notify"
)

// Notifier delivers operator alerts. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// OpenRequest describes a new position. Optional levels are nil when unset.
type OpenRequest struct {
	Symbol          string
	Owner           string
	Quantity        decimal.Decimal
	EntryPrice      decimal.Decimal
	StopLoss        *decimal.Decimal
	TakeProfit      *decimal.Decimal
	TrailingStopPct *decimal.Decimal
}

// PositionService owns the position lifecycle: opening, persisting evaluation
// outcomes and closing. Every state change is audited and published on the
// positions channel.
type PositionService struct {
	positions domain.PositionStore
	audit     domain.AuditStore
	bus       domain.SignalBus
	notifier  Notifier
	logger    *slog.Logger
}

// NewPositionService creates a PositionService. notifier may be nil.
func NewPositionService(
	positions domain.PositionStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier Notifier,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		audit:     audit,
		bus:       bus,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "position_service")),
	}
}

// Open validates req and persists a new open position. The trailing high
// starts at the entry price. When only a trailing percentage is given the
// initial stop-loss is derived from it.
func (s *PositionService) Open(ctx context.Context, req OpenRequest) (domain.Position, error) {
	now := time.Now().UTC()
	symbol := domain.NormalizeSymbol(req.Symbol)

	pos := domain.Position{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		AssetType:       domain.AssetTypeOf(symbol),
		Owner:           strings.TrimSpace(req.Owner),
		Quantity:        req.Quantity,
		EntryPrice:      req.EntryPrice,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		TrailingHigh:    req.EntryPrice,
		TrailingStopPct: req.TrailingStopPct,
		Status:          domain.PositionStatusOpen,
		OpenedAt:        now,
		UpdatedAt:       now,
	}
	if err := pos.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: open: %w", err)
	}
	if pos.StopLoss == nil && pos.TrailingStopPct != nil {
		stop := domain.TrailingStopFrom(pos.EntryPrice, *pos.TrailingStopPct).Round(exit.PricePlaces)
		pos.StopLoss = &stop
	}

	if err := s.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create position: %w", err)
	}

	s.publish(ctx, "position_opened", pos)
	s.auditLog(ctx, "position_opened", pos, nil)
	if s.notifier != nil {
		title, msg := notify.FormatOpened(pos)
		s.alert(ctx, notify.EventPositionOpened, title, msg)
	}

	s.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("quantity", pos.Quantity.String()),
	)
	return pos, nil
}

// Get returns a single position.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get position %q: %w", id, err)
	}
	return pos, nil
}

// ListOpen returns open positions for owner; an empty owner lists all.
func (s *PositionService) ListOpen(ctx context.Context, owner string) ([]domain.Position, error) {
	positions, err := s.positions.ListOpen(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("position_service: list open for %q: %w", owner, err)
	}
	return positions, nil
}

// ListHistory returns open and closed positions for owner, newest first.
func (s *PositionService) ListHistory(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListHistory(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list history for %q: %w", owner, err)
	}
	return positions, nil
}

// ApplyEvaluation persists the outcome of evaluating pos at price and returns
// the position as stored afterwards. A triggered result closes the position;
// otherwise any ratcheted trailing fields are saved. pos must be the state
// the result was computed from.
func (s *PositionService) ApplyEvaluation(ctx context.Context, pos domain.Position, price decimal.Decimal, result domain.EvaluationResult) (domain.Position, error) {
	if result.Ratcheted() {
		updated, err := s.ratchet(ctx, pos, result)
		if err != nil {
			return pos, err
		}
		pos = updated
	}

	if !result.Triggered {
		return pos, nil
	}
	return s.close(ctx, pos, price, domain.CloseReason(result.TriggerType))
}

// CloseManual closes an open position at price on operator request.
func (s *PositionService) CloseManual(ctx context.Context, id string, price decimal.Decimal) (domain.Position, error) {
	if !price.IsPositive() {
		return domain.Position{}, fmt.Errorf("position_service: close %q: exit price must be > 0: %w", id, domain.ErrInvalidPosition)
	}
	pos, err := s.Get(ctx, id)
	if err != nil {
		return domain.Position{}, err
	}
	if !pos.IsOpen() {
		return pos, fmt.Errorf("position_service: close %q: %w", id, domain.ErrPositionClosed)
	}
	return s.close(ctx, pos, price, domain.CloseReasonManual)
}

func (s *PositionService) ratchet(ctx context.Context, pos domain.Position, result domain.EvaluationResult) (domain.Position, error) {
	high := pos.TrailingHigh
	if result.NewHigh != nil && result.NewHigh.GreaterThan(high) {
		high = *result.NewHigh
	}

	if err := s.positions.UpdateTrailing(ctx, pos.ID, high, result.NewStopLoss); err != nil {
		return pos, fmt.Errorf("position_service: update trailing %q: %w", pos.ID, err)
	}

	prevStop := pos.StopLoss
	pos.TrailingHigh = high
	if result.NewStopLoss != nil {
		stop := *result.NewStopLoss
		pos.StopLoss = &stop
	}
	pos.UpdatedAt = time.Now().UTC()

	s.publish(ctx, "trailing_updated", pos)
	s.auditLog(ctx, "trailing_updated", pos, map[string]any{
		"previous_stop_loss": decimalOrNil(prevStop),
	})

	s.logger.DebugContext(ctx, "position_service: trailing stop ratcheted",
		slog.String("position_id", pos.ID),
		slog.String("trailing_high", pos.TrailingHigh.String()),
		slog.Any("stop_loss", decimalOrNil(pos.StopLoss)),
	)
	return pos, nil
}

func (s *PositionService) close(ctx context.Context, pos domain.Position, price decimal.Decimal, reason domain.CloseReason) (domain.Position, error) {
	pnl := pos.PnL(price)
	if err := s.positions.Close(ctx, pos.ID, price, reason, pnl); err != nil {
		return pos, fmt.Errorf("position_service: close position %q: %w", pos.ID, err)
	}

	now := time.Now().UTC()
	pos.Status = domain.PositionStatusClosed
	pos.CloseReason = reason
	pos.ExitPrice = &price
	pos.RealizedPnL = &pnl
	pos.ClosedAt = &now
	pos.UpdatedAt = now

	payload := s.publish(ctx, "position_closed", pos)
	if payload != nil {
		if err := s.bus.StreamAppend(ctx, domain.StreamCloses, payload); err != nil {
			s.logger.WarnContext(ctx, "position_service: append close stream failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.auditLog(ctx, "position_closed", pos, nil)
	if s.notifier != nil {
		title, msg := notify.FormatClosed(pos)
		s.alert(ctx, notify.EventPositionClosed, title, msg)
	}

	s.logger.InfoContext(ctx, "position_service: position closed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", string(reason)),
		slog.String("exit_price", price.String()),
		slog.String("realized_pnl", pnl.String()),
	)
	return pos, nil
}

// publish announces a position event and returns the encoded payload.
func (s *PositionService) publish(ctx context.Context, event string, pos domain.Position) []byte {
	body := positionDetail(pos)
	body["event"] = event
	evt, err := json.Marshal(body)
	if err != nil {
		return nil
	}
	if pubErr := s.bus.Publish(ctx, domain.ChannelPositions, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "position_service: publish event failed",
			slog.String("event", event),
			slog.String("position_id", pos.ID),
			slog.String("error", pubErr.Error()),
		)
	}
	return evt
}

func (s *PositionService) auditLog(ctx context.Context, event string, pos domain.Position, extra map[string]any) {
	detail := positionDetail(pos)
	for k, v := range extra {
		detail[k] = v
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "position_service: audit log failed",
			slog.String("event", event),
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) alert(ctx context.Context, event, title, msg string) {
	if err := s.notifier.Notify(ctx, event, title, msg); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "position_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// positionDetail flattens pos for events and audit rows. Decimals are
// rendered as strings so no precision is lost in JSON.
func positionDetail(p domain.Position) map[string]any {
	d := map[string]any{
		"position_id":       p.ID,
		"symbol":            p.Symbol,
		"asset_type":        string(p.AssetType),
		"owner":             p.Owner,
		"status":            string(p.Status),
		"quantity":          p.Quantity.String(),
		"entry_price":       p.EntryPrice.String(),
		"trailing_high":     p.TrailingHigh.String(),
		"stop_loss":         decimalOrNil(p.StopLoss),
		"take_profit":       decimalOrNil(p.TakeProfit),
		"trailing_stop_pct": decimalOrNil(p.TrailingStopPct),
	}
	if !p.IsOpen() {
		d["close_reason"] = string(p.CloseReason)
		d["exit_price"] = decimalOrNil(p.ExitPrice)
		d["realized_pnl"] = decimalOrNil(p.RealizedPnL)
	}
	return d
}

func decimalOrNil(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}
