// Package exit decides whether a held long position should be closed at an
// observed price and how its trailing stop ratchets between observations.
//
// Evaluate is pure: it reads its two arguments, allocates a result and
// touches nothing else, so it may be called from any number of goroutines.
// Callers must still feed observations for one position in order, persisting
// each result before the next call.
package exit

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

// PricePlaces is the number of fractional digits a recomputed trailing stop
// is rounded to.
const PricePlaces int32 = 8

// Evaluate checks currentPrice against the exit levels in state.
//
// The trailing high is ratcheted first and independently of the outcome.
// Take-profit is checked before stop-loss, so a price satisfying both exits
// for profit. Both comparisons include the boundary. The stop-loss compared
// here is always state.StopLossTrigger; a NewStopLoss computed on this call
// only takes effect once the caller stores it and passes it back.
func Evaluate(currentPrice decimal.Decimal, state domain.PositionState) domain.EvaluationResult {
	var res domain.EvaluationResult

	if currentPrice.GreaterThan(state.TrailingHighPrice) {
		high := currentPrice
		res.NewHigh = &high
		if state.TrailingStopLossPct != nil {
			stop := domain.TrailingStopFrom(high, *state.TrailingStopLossPct).Round(PricePlaces)
			res.NewStopLoss = &stop
		}
	}

	switch {
	case state.TakeProfitTrigger != nil && currentPrice.GreaterThanOrEqual(*state.TakeProfitTrigger):
		res.Triggered = true
		res.TriggerType = domain.TriggerTakeProfit
	case state.StopLossTrigger != nil && currentPrice.LessThanOrEqual(*state.StopLossTrigger):
		res.Triggered = true
		res.TriggerType = domain.TriggerStopLoss
	}

	return res
}
