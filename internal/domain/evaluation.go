package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TriggerType names the exit condition that fired on an evaluation.
type TriggerType string

const (
	TriggerStopLoss   TriggerType = "STOP_LOSS"
	TriggerTakeProfit TriggerType = "TAKE_PROFIT"
)

// PositionState is the read-only input to a single exit evaluation. Optional
// levels are nil when not configured.
type PositionState struct {
	EntryPrice          decimal.Decimal
	StopLossTrigger     *decimal.Decimal
	TakeProfitTrigger   *decimal.Decimal
	TrailingHighPrice   decimal.Decimal
	TrailingStopLossPct *decimal.Decimal
}

// EvaluationResult describes the outcome of one evaluation: whether an exit
// fired and which trailing fields the caller should persist.
//
// TriggerType is empty iff Triggered is false. NewHigh and NewStopLoss are
// returned even when an exit fired.
type EvaluationResult struct {
	Triggered   bool
	TriggerType TriggerType
	NewHigh     *decimal.Decimal
	NewStopLoss *decimal.Decimal
}

// Ratcheted reports whether the result carries trailing updates to persist.
func (r EvaluationResult) Ratcheted() bool {
	return r.NewHigh != nil || r.NewStopLoss != nil
}

// EvaluationRecord is one journal row written per monitored evaluation.
type EvaluationRecord struct {
	PositionID   string
	Symbol       string
	Price        decimal.Decimal
	StopLoss     *decimal.Decimal
	TakeProfit   *decimal.Decimal
	TrailingHigh decimal.Decimal
	Result       EvaluationResult
	EvaluatedAt  time.Time
}
