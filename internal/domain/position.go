package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// AssetType distinguishes plain equities from listed option contracts.
type AssetType string

const (
	AssetTypeStock  AssetType = "stock"
	AssetTypeOption AssetType = "option"
)

// CloseReason records why a position was closed. The automatic reasons share
// their values with TriggerType.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = CloseReason(TriggerStopLoss)
	CloseReasonTakeProfit CloseReason = CloseReason(TriggerTakeProfit)
	CloseReasonManual     CloseReason = "MANUAL"
)

var hundred = decimal.NewFromInt(100)

// Position is a held long position together with its protective exit levels
// and trailing-stop bookkeeping.
type Position struct {
	ID              string
	Symbol          string
	AssetType       AssetType
	Owner           string
	Quantity        decimal.Decimal
	EntryPrice      decimal.Decimal
	StopLoss        *decimal.Decimal
	TakeProfit      *decimal.Decimal
	TrailingHigh    decimal.Decimal
	TrailingStopPct *decimal.Decimal
	Status          PositionStatus
	CloseReason     CloseReason
	ExitPrice       *decimal.Decimal
	RealizedPnL     *decimal.Decimal
	OpenedAt        time.Time
	UpdatedAt       time.Time
	ClosedAt        *time.Time
}

// State projects the position onto the fields consumed by the exit evaluator.
func (p Position) State() PositionState {
	return PositionState{
		EntryPrice:          p.EntryPrice,
		StopLossTrigger:     p.StopLoss,
		TakeProfitTrigger:   p.TakeProfit,
		TrailingHighPrice:   p.TrailingHigh,
		TrailingStopLossPct: p.TrailingStopPct,
	}
}

// IsOpen reports whether the position is still being monitored.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// PnL returns the profit or loss of closing the whole position at exitPrice.
func (p Position) PnL(exitPrice decimal.Decimal) decimal.Decimal {
	return exitPrice.Sub(p.EntryPrice).Mul(p.Quantity)
}

// Validate checks the fields a caller must guarantee before a position is
// persisted or evaluated. It reports every problem at once.
func (p Position) Validate() error {
	var errs []string

	if strings.TrimSpace(p.Symbol) == "" {
		errs = append(errs, "symbol must not be empty")
	}
	if !p.EntryPrice.IsPositive() {
		errs = append(errs, "entry_price must be > 0")
	}
	if !p.Quantity.IsPositive() {
		errs = append(errs, "quantity must be > 0")
	}
	if p.TrailingStopPct != nil {
		pct := *p.TrailingStopPct
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			errs = append(errs, fmt.Sprintf("trailing_stop_pct must be within [0, 100], got %s", pct))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPosition, strings.Join(errs, "; "))
	}
	return nil
}

// TrailingStopFrom returns the stop level pct percent below high.
func TrailingStopFrom(high, pct decimal.Decimal) decimal.Decimal {
	return high.Mul(decimal.NewFromInt(1).Sub(pct.Div(hundred)))
}

// IsInvalidPosition reports whether err came from Position.Validate.
func IsInvalidPosition(err error) bool {
	return errors.Is(err, ErrInvalidPosition)
}
