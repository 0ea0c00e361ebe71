package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

// FormatOpened renders the alert for a newly opened position.
func FormatOpened(p domain.Position) (title, message string) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s x%s @ %s\n", p.Symbol, p.Quantity, p.EntryPrice)
	writeLevels(&b, p)
	return "Position opened: " + p.Symbol, strings.TrimRight(b.String(), "\n")
}

// FormatClosed renders the alert for a closed position.
func FormatClosed(p domain.Position) (title, message string) {
	var b strings.Builder
	exit := "?"
	if p.ExitPrice != nil {
		exit = p.ExitPrice.String()
	}
	fmt.Fprintf(&b, "%s x%s closed at %s (entry %s)\n", p.Symbol, p.Quantity, exit, p.EntryPrice)
	if p.RealizedPnL != nil {
		fmt.Fprintf(&b, "Realized PnL: %s\n", p.RealizedPnL.StringFixed(2))
	}
	fmt.Fprintf(&b, "Trailing high: %s", p.TrailingHigh)
	return fmt.Sprintf("%s %s", reasonLabel(p.CloseReason), p.Symbol), b.String()
}

func writeLevels(b *strings.Builder, p domain.Position) {
	if p.StopLoss != nil {
		fmt.Fprintf(b, "Stop-loss: %s\n", p.StopLoss)
	}
	if p.TakeProfit != nil {
		fmt.Fprintf(b, "Take-profit: %s\n", p.TakeProfit)
	}
	if p.TrailingStopPct != nil {
		fmt.Fprintf(b, "Trailing stop: %s%%\n", p.TrailingStopPct)
	}
}

func reasonLabel(r domain.CloseReason) string {
	switch r {
	case domain.CloseReasonStopLoss:
		return "Stop-loss hit:"
	case domain.CloseReasonTakeProfit:
		return "Take-profit hit:"
	case domain.CloseReasonManual:
		return "Closed manually:"
	default:
		return "Closed:"
	}
}
