// Package memory implements domain store interfaces in process memory. It
// backs dry-run mode and service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

// PositionStore is an in-memory implementation of domain.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]domain.Position
	now  func() time.Time
}

// NewPositionStore creates an empty in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]domain.Position),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)

// Create inserts a new position. Returns ErrAlreadyExists if the ID is taken.
func (s *PositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	s.data[p.ID] = clonePosition(p)
	return nil
}

// GetByID returns a copy of the stored position.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return clonePosition(p), nil
}

// ListOpen returns open positions for owner, newest first. An empty owner
// matches every position.
func (s *PositionStore) ListOpen(_ context.Context, owner string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, p := range s.data {
		if p.Status != domain.PositionStatusOpen {
			continue
		}
		if owner != "" && p.Owner != owner {
			continue
		}
		out = append(out, clonePosition(p))
	}
	sortNewestFirst(out)
	return out, nil
}

// ListHistory returns all positions for owner with pagination and optional
// opened-at filtering.
func (s *PositionStore) ListHistory(_ context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, p := range s.data {
		if owner != "" && p.Owner != owner {
			continue
		}
		if opts.Since != nil && p.OpenedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && p.OpenedAt.After(*opts.Until) {
			continue
		}
		out = append(out, clonePosition(p))
	}
	sortNewestFirst(out)

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// ListClosedBefore returns closed positions whose closed_at is strictly
// before the cutoff, oldest first.
func (s *PositionStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, p := range s.data {
		if p.Status != domain.PositionStatusClosed || p.ClosedAt == nil {
			continue
		}
		if p.ClosedAt.Before(before) {
			out = append(out, clonePosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClosedAt.Before(*out[j].ClosedAt)
	})
	return out, nil
}

// UpdateTrailing ratchets the trailing high and optionally replaces the
// stop-loss. A write whose high is behind the stored one changes neither.
func (s *PositionStore) UpdateTrailing(_ context.Context, id string, newHigh decimal.Decimal, newStopLoss *decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PositionStatusOpen {
		return domain.ErrPositionClosed
	}

	if newHigh.LessThan(p.TrailingHigh) {
		return nil
	}
	p.TrailingHigh = newHigh
	if newStopLoss != nil {
		sl := *newStopLoss
		p.StopLoss = &sl
	}
	p.UpdatedAt = s.now()
	s.data[id] = p
	return nil
}

// Close marks an open position closed.
func (s *PositionStore) Close(_ context.Context, id string, exitPrice decimal.Decimal, reason domain.CloseReason, pnl decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PositionStatusOpen {
		return domain.ErrPositionClosed
	}

	now := s.now()
	p.Status = domain.PositionStatusClosed
	p.CloseReason = reason
	p.ExitPrice = &exitPrice
	p.RealizedPnL = &pnl
	p.ClosedAt = &now
	p.UpdatedAt = now
	s.data[id] = p
	return nil
}

func sortNewestFirst(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].OpenedAt.After(ps[j].OpenedAt)
	})
}

// clonePosition copies the pointer fields so callers cannot mutate stored
// state through a returned value.
func clonePosition(p domain.Position) domain.Position {
	p.StopLoss = cloneDec(p.StopLoss)
	p.TakeProfit = cloneDec(p.TakeProfit)
	p.TrailingStopPct = cloneDec(p.TrailingStopPct)
	p.ExitPrice = cloneDec(p.ExitPrice)
	p.RealizedPnL = cloneDec(p.RealizedPnL)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		p.ClosedAt = &t
	}
	return p
}

func cloneDec(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
