package handler

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitguard/internal/domain"
	"github.com/alanyoungcy/exitguard/internal/exit"
)

// EvaluateHandler exposes the exit evaluator without touching any store.
type EvaluateHandler struct {
	logger *slog.Logger
}

// NewEvaluateHandler creates an EvaluateHandler.
func NewEvaluateHandler(logger *slog.Logger) *EvaluateHandler {
	return &EvaluateHandler{logger: logger.With(slog.String("handler", "evaluate"))}
}

type evaluateRequest struct {
	CurrentPrice        *decimal.Decimal `json:"current_price"`
	EntryPrice          *decimal.Decimal `json:"entry_price"`
	StopLossTrigger     *decimal.Decimal `json:"stop_loss_trigger"`
	TakeProfitTrigger   *decimal.Decimal `json:"take_profit_trigger"`
	TrailingHighPrice   *decimal.Decimal `json:"trailing_high_price"`
	TrailingStopLossPct *decimal.Decimal `json:"trailing_stop_loss_pct"`
}

type resultResponse struct {
	Triggered   bool             `json:"triggered"`
	TriggerType *string          `json:"trigger_type"`
	NewHigh     *decimal.Decimal `json:"new_high"`
	NewStopLoss *decimal.Decimal `json:"new_stop_loss"`
}

func toResultResponse(r domain.EvaluationResult) resultResponse {
	out := resultResponse{
		Triggered:   r.Triggered,
		NewHigh:     r.NewHigh,
		NewStopLoss: r.NewStopLoss,
	}
	if r.Triggered {
		t := string(r.TriggerType)
		out.TriggerType = &t
	}
	return out
}

// Evaluate checks a price against a caller-supplied position state.
// trailing_high_price defaults to entry_price when omitted.
// POST /api/evaluate
func (h *EvaluateHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CurrentPrice == nil || req.EntryPrice == nil {
		writeError(w, http.StatusBadRequest, "current_price and entry_price are required")
		return
	}

	high := *req.EntryPrice
	if req.TrailingHighPrice != nil {
		high = *req.TrailingHighPrice
	}

	res := exit.Evaluate(*req.CurrentPrice, domain.PositionState{
		EntryPrice:          *req.EntryPrice,
		StopLossTrigger:     req.StopLossTrigger,
		TakeProfitTrigger:   req.TakeProfitTrigger,
		TrailingHighPrice:   high,
		TrailingStopLossPct: req.TrailingStopLossPct,
	})
	writeJSON(w, http.StatusOK, toResultResponse(res))
}
