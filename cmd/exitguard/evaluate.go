package main

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/exitguard/internal/domain"
	"github.com/alanyoungcy/exitguard/internal/exit"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one price against a position state offline",
	Long: `Evaluate runs the exit evaluator once and prints the result as JSON.
No configuration, store or network access is needed.

Example:
  exitguard evaluate --price 108 --entry 100 --high 110 --trailing-pct 5`,
	RunE: runEvaluate,
}

var (
	evPrice       string
	evEntry       string
	evStopLoss    string
	evTakeProfit  string
	evHigh        string
	evTrailingPct string
)

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evPrice, "price", "p", "", "current price (required)")
	evaluateCmd.Flags().StringVarP(&evEntry, "entry", "e", "", "entry price (required)")
	evaluateCmd.Flags().StringVar(&evStopLoss, "stop-loss", "", "stop-loss trigger price")
	evaluateCmd.Flags().StringVar(&evTakeProfit, "take-profit", "", "take-profit trigger price")
	evaluateCmd.Flags().StringVar(&evHigh, "high", "", "trailing high price (default: entry)")
	evaluateCmd.Flags().StringVar(&evTrailingPct, "trailing-pct", "", "trailing stop percent of the high, e.g. 5")

	_ = evaluateCmd.MarkFlagRequired("price")
	_ = evaluateCmd.MarkFlagRequired("entry")
}

type evaluateOutput struct {
	Triggered   bool             `json:"triggered"`
	TriggerType *string          `json:"trigger_type"`
	NewHigh     *decimal.Decimal `json:"new_high"`
	NewStopLoss *decimal.Decimal `json:"new_stop_loss"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	price, err := decimal.NewFromString(evPrice)
	if err != nil {
		return fmt.Errorf("--price: %w", err)
	}
	state, err := evaluateState()
	if err != nil {
		return err
	}

	res := exit.Evaluate(price, state)
	out := evaluateOutput{
		Triggered:   res.Triggered,
		NewHigh:     res.NewHigh,
		NewStopLoss: res.NewStopLoss,
	}
	if res.Triggered {
		t := string(res.TriggerType)
		out.TriggerType = &t
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func evaluateState() (domain.PositionState, error) {
	var state domain.PositionState

	entry, err := decimal.NewFromString(evEntry)
	if err != nil {
		return state, fmt.Errorf("--entry: %w", err)
	}
	state.EntryPrice = entry
	state.TrailingHighPrice = entry

	if evHigh != "" {
		if state.TrailingHighPrice, err = decimal.NewFromString(evHigh); err != nil {
			return state, fmt.Errorf("--high: %w", err)
		}
	}
	if state.StopLossTrigger, err = optionalDecimal("stop-loss", evStopLoss); err != nil {
		return state, err
	}
	if state.TakeProfitTrigger, err = optionalDecimal("take-profit", evTakeProfit); err != nil {
		return state, err
	}
	if state.TrailingStopLossPct, err = optionalDecimal("trailing-pct", evTrailingPct); err != nil {
		return state, err
	}
	return state, nil
}

func optionalDecimal(flag, raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return &d, nil
}
