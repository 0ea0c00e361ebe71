package exit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func baseState() domain.PositionState {
	return domain.PositionState{
		EntryPrice:        d("10"),
		StopLossTrigger:   dp("8"),
		TrailingHighPrice: d("10"),
	}
}

func TestEvaluate_Scenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		price       string
		mutate      func(*domain.PositionState)
		triggered   bool
		trigger     domain.TriggerType
		newHigh     string
		newStopLoss string
	}{
		{
			name:  "at trailing high",
			price: "10",
		},
		{
			name:      "below stop loss",
			price:     "7",
			triggered: true,
			trigger:   domain.TriggerStopLoss,
		},
		{
			name:      "above take profit",
			price:     "15",
			mutate:    func(s *domain.PositionState) { s.TakeProfitTrigger = dp("14") },
			triggered: true,
			trigger:   domain.TriggerTakeProfit,
			newHigh:   "15",
		},
		{
			name:        "new high with trailing pct",
			price:       "12",
			mutate:      func(s *domain.PositionState) { s.TrailingStopLossPct = dp("20") },
			newHigh:     "12",
			newStopLoss: "9.6",
		},
		{
			name:  "carried trailing stop fires",
			price: "9.5",
			mutate: func(s *domain.PositionState) {
				s.StopLossTrigger = dp("9.6")
				s.TrailingHighPrice = d("12")
				s.TrailingStopLossPct = dp("20")
			},
			triggered: true,
			trigger:   domain.TriggerStopLoss,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			state := baseState()
			if tt.mutate != nil {
				tt.mutate(&state)
			}

			got := Evaluate(d(tt.price), state)

			assert.Equal(t, tt.triggered, got.Triggered)
			assert.Equal(t, tt.trigger, got.TriggerType)

			if tt.newHigh == "" {
				assert.Nil(t, got.NewHigh)
			} else {
				require.NotNil(t, got.NewHigh)
				assert.True(t, d(tt.newHigh).Equal(*got.NewHigh), "new high %s", got.NewHigh)
			}
			if tt.newStopLoss == "" {
				assert.Nil(t, got.NewStopLoss)
			} else {
				require.NotNil(t, got.NewStopLoss)
				diff := got.NewStopLoss.Sub(d(tt.newStopLoss)).Abs()
				assert.True(t, diff.LessThanOrEqual(d("0.0001")), "new stop loss %s", got.NewStopLoss)
			}
		})
	}
}

func TestEvaluate_BoundariesInclusive(t *testing.T) {
	t.Parallel()

	state := domain.PositionState{
		EntryPrice:        d("10"),
		StopLossTrigger:   dp("8"),
		TakeProfitTrigger: dp("14"),
		TrailingHighPrice: d("10"),
	}

	sl := Evaluate(d("8"), state)
	assert.True(t, sl.Triggered)
	assert.Equal(t, domain.TriggerStopLoss, sl.TriggerType)

	tp := Evaluate(d("14"), state)
	assert.True(t, tp.Triggered)
	assert.Equal(t, domain.TriggerTakeProfit, tp.TriggerType)

	assert.False(t, Evaluate(d("8.00000001"), state).Triggered)
	assert.False(t, Evaluate(d("13.99999999"), state).Triggered)
}

func TestEvaluate_BetweenLevelsNeverTriggers(t *testing.T) {
	t.Parallel()

	state := domain.PositionState{
		EntryPrice:        d("100"),
		StopLossTrigger:   dp("90"),
		TakeProfitTrigger: dp("120"),
		TrailingHighPrice: d("100"),
	}

	for p := d("90.01"); p.LessThan(d("120")); p = p.Add(d("0.37")) {
		res := Evaluate(p, state)
		assert.False(t, res.Triggered, "price %s", p)
		assert.Empty(t, res.TriggerType, "price %s", p)
	}
}

func TestEvaluate_TakeProfitWinsOverlap(t *testing.T) {
	t.Parallel()

	// Stop-loss above take-profit: any price at or above 14 satisfies both.
	state := domain.PositionState{
		EntryPrice:        d("10"),
		StopLossTrigger:   dp("16"),
		TakeProfitTrigger: dp("14"),
		TrailingHighPrice: d("10"),
	}

	res := Evaluate(d("14"), state)
	assert.True(t, res.Triggered)
	assert.Equal(t, domain.TriggerTakeProfit, res.TriggerType)
}

func TestEvaluate_StaticStopIsAuthoritativeThisCall(t *testing.T) {
	t.Parallel()

	// The fresh trailing stop (80 * 0.99 = 79.2) would fire at 79, but only the
	// stored stop of 50 is compared on this call.
	state := domain.PositionState{
		EntryPrice:          d("50"),
		StopLossTrigger:     dp("50"),
		TrailingHighPrice:   d("60"),
		TrailingStopLossPct: dp("1"),
	}

	first := Evaluate(d("80"), state)
	assert.False(t, first.Triggered)
	require.NotNil(t, first.NewStopLoss)
	assert.True(t, d("79.2").Equal(*first.NewStopLoss))

	// Caller persists the result and feeds it back.
	state.TrailingHighPrice = *first.NewHigh
	state.StopLossTrigger = first.NewStopLoss

	second := Evaluate(d("79"), state)
	assert.True(t, second.Triggered)
	assert.Equal(t, domain.TriggerStopLoss, second.TriggerType)
	assert.Nil(t, second.NewHigh)
}

func TestEvaluate_TrailingOnlyNeverTriggers(t *testing.T) {
	t.Parallel()

	state := domain.PositionState{
		EntryPrice:          d("10"),
		TrailingHighPrice:   d("10"),
		TrailingStopLossPct: dp("5"),
	}

	for _, p := range []string{"11", "3", "0", "-2", "25"} {
		res := Evaluate(d(p), state)
		assert.False(t, res.Triggered, "price %s", p)
	}

	res := Evaluate(d("25"), state)
	require.NotNil(t, res.NewHigh)
	require.NotNil(t, res.NewStopLoss)
	assert.True(t, d("23.75").Equal(*res.NewStopLoss))
}

func TestEvaluate_HighRatchetsWithoutPct(t *testing.T) {
	t.Parallel()

	state := baseState()
	res := Evaluate(d("11"), state)

	require.NotNil(t, res.NewHigh)
	assert.True(t, d("11").Equal(*res.NewHigh))
	assert.Nil(t, res.NewStopLoss)
	assert.True(t, res.Ratcheted())
}

func TestEvaluate_MonotonicHighAcrossSequence(t *testing.T) {
	t.Parallel()

	state := domain.PositionState{
		EntryPrice:          d("10"),
		TrailingHighPrice:   d("10"),
		TrailingStopLossPct: dp("10"),
	}
	prices := []string{"10.5", "10.2", "11", "11", "10.9", "12.25", "12", "13"}

	prevHigh := state.TrailingHighPrice
	for _, p := range prices {
		res := Evaluate(d(p), state)
		if res.NewHigh != nil {
			assert.True(t, res.NewHigh.GreaterThan(prevHigh), "proposed high %s after %s", res.NewHigh, prevHigh)
			state.TrailingHighPrice = *res.NewHigh
			state.StopLossTrigger = res.NewStopLoss
			prevHigh = *res.NewHigh
		}
	}

	assert.True(t, d("13").Equal(state.TrailingHighPrice))
	require.NotNil(t, state.StopLossTrigger)
	assert.True(t, d("11.7").Equal(*state.StopLossTrigger))
}

func TestEvaluate_NonPositivePriceEvaluatedMechanically(t *testing.T) {
	t.Parallel()

	state := baseState()

	zero := Evaluate(decimal.Zero, state)
	assert.True(t, zero.Triggered)
	assert.Equal(t, domain.TriggerStopLoss, zero.TriggerType)

	neg := Evaluate(d("-1"), state)
	assert.True(t, neg.Triggered)
	assert.Nil(t, neg.NewHigh)
}

func TestEvaluate_StopRoundedToPricePlaces(t *testing.T) {
	t.Parallel()

	state := domain.PositionState{
		EntryPrice:          d("1"),
		TrailingHighPrice:   d("1"),
		TrailingStopLossPct: dp("33.333333333"),
	}

	res := Evaluate(d("3.33333333333"), state)
	require.NotNil(t, res.NewStopLoss)
	assert.LessOrEqual(t, -res.NewStopLoss.Exponent(), PricePlaces)
}

func TestEvaluate_DoesNotMutateState(t *testing.T) {
	t.Parallel()

	state := baseState()
	state.TrailingStopLossPct = dp("20")
	stop := *state.StopLossTrigger

	_ = Evaluate(d("12"), state)

	assert.True(t, d("10").Equal(state.TrailingHighPrice))
	assert.True(t, stop.Equal(*state.StopLossTrigger))
}
