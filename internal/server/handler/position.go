package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitguard/internal/domain"
	"github.com/alanyoungcy/exitguard/internal/service"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Open(ctx context.Context, req service.OpenRequest) (domain.Position, error)
	Get(ctx context.Context, id string) (domain.Position, error)
	ListOpen(ctx context.Context, owner string) ([]domain.Position, error)
	ListHistory(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error)
	CloseManual(ctx context.Context, id string, price decimal.Decimal) (domain.Position, error)
}

// PositionEvaluator runs the monitor pipeline for one position.
type PositionEvaluator interface {
	EvaluateOne(ctx context.Context, id string) (service.Outcome, error)
}

// PriceLookup resolves a current price for manual closes.
type PriceLookup interface {
	Current(ctx context.Context, symbol string, maxAge time.Duration) (domain.Quote, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions   PositionService
	evaluator   PositionEvaluator
	prices      PriceLookup
	journal     domain.EvaluationJournal
	maxPriceAge time.Duration
	logger      *slog.Logger
}

// NewPositionHandler creates a PositionHandler. journal may be nil, which
// disables the evaluations endpoint.
func NewPositionHandler(
	positions PositionService,
	evaluator PositionEvaluator,
	prices PriceLookup,
	journal domain.EvaluationJournal,
	maxPriceAge time.Duration,
	logger *slog.Logger,
) *PositionHandler {
	return &PositionHandler{
		positions:   positions,
		evaluator:   evaluator,
		prices:      prices,
		journal:     journal,
		maxPriceAge: maxPriceAge,
		logger:      logger.With(slog.String("handler", "position")),
	}
}

// positionResponse is the JSON view of a position. Decimals are strings.
type positionResponse struct {
	ID              string           `json:"id"`
	Symbol          string           `json:"symbol"`
	AssetType       string           `json:"asset_type"`
	Owner           string           `json:"owner,omitempty"`
	Quantity        decimal.Decimal  `json:"quantity"`
	EntryPrice      decimal.Decimal  `json:"entry_price"`
	StopLoss        *decimal.Decimal `json:"stop_loss"`
	TakeProfit      *decimal.Decimal `json:"take_profit"`
	TrailingHigh    decimal.Decimal  `json:"trailing_high"`
	TrailingStopPct *decimal.Decimal `json:"trailing_stop_pct"`
	Status          string           `json:"status"`
	CloseReason     string           `json:"close_reason,omitempty"`
	ExitPrice       *decimal.Decimal `json:"exit_price,omitempty"`
	RealizedPnL     *decimal.Decimal `json:"realized_pnl,omitempty"`
	OpenedAt        time.Time        `json:"opened_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	ClosedAt        *time.Time       `json:"closed_at,omitempty"`
}

func toPositionResponse(p domain.Position) positionResponse {
	return positionResponse{
		ID:              p.ID,
		Symbol:          p.Symbol,
		AssetType:       string(p.AssetType),
		Owner:           p.Owner,
		Quantity:        p.Quantity,
		EntryPrice:      p.EntryPrice,
		StopLoss:        p.StopLoss,
		TakeProfit:      p.TakeProfit,
		TrailingHigh:    p.TrailingHigh,
		TrailingStopPct: p.TrailingStopPct,
		Status:          string(p.Status),
		CloseReason:     string(p.CloseReason),
		ExitPrice:       p.ExitPrice,
		RealizedPnL:     p.RealizedPnL,
		OpenedAt:        p.OpenedAt,
		UpdatedAt:       p.UpdatedAt,
		ClosedAt:        p.ClosedAt,
	}
}

func toPositionList(ps []domain.Position) []positionResponse {
	out := make([]positionResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPositionResponse(p))
	}
	return out
}

type listPositionsResponse struct {
	Positions []positionResponse `json:"positions"`
}

// ListOpen returns open positions, optionally filtered by owner.
// GET /api/positions?owner=...
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ListOpen(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: toPositionList(positions)})
}

// ListHistory returns open and closed positions, newest first.
// GET /api/positions/history?owner=&limit=&offset=
func (h *PositionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ListHistory(r.Context(), r.URL.Query().Get("owner"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list position history", err)
		return
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: toPositionList(positions)})
}

// Get returns a single position.
// GET /api/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

// openPositionRequest accepts decimals as JSON strings or numbers.
type openPositionRequest struct {
	Symbol          string           `json:"symbol"`
	Owner           string           `json:"owner"`
	Quantity        *decimal.Decimal `json:"quantity"`
	EntryPrice      *decimal.Decimal `json:"entry_price"`
	StopLoss        *decimal.Decimal `json:"stop_loss"`
	TakeProfit      *decimal.Decimal `json:"take_profit"`
	TrailingStopPct *decimal.Decimal `json:"trailing_stop_pct"`
}

// Open creates a position.
// POST /api/positions
func (h *PositionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity == nil || req.EntryPrice == nil {
		writeError(w, http.StatusBadRequest, "quantity and entry_price are required")
		return
	}

	pos, err := h.positions.Open(r.Context(), service.OpenRequest{
		Symbol:          req.Symbol,
		Owner:           req.Owner,
		Quantity:        *req.Quantity,
		EntryPrice:      *req.EntryPrice,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		TrailingStopPct: req.TrailingStopPct,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "open position", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPositionResponse(pos))
}

type closePositionRequest struct {
	Price *decimal.Decimal `json:"price"`
}

// Close closes a position manually at the given price, or at the current
// market price when none is given.
// POST /api/positions/{id}/close
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req closePositionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	price := req.Price
	if price == nil {
		pos, err := h.positions.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, h.logger, "close position", err)
			return
		}
		if !pos.IsOpen() {
			writeServiceError(w, r, h.logger, "close position", domain.ErrPositionClosed)
			return
		}
		q, err := h.prices.Current(r.Context(), pos.Symbol, h.maxPriceAge)
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: price lookup for close failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusServiceUnavailable, "price unavailable; supply a price")
			return
		}
		price = &q.Price
	}

	pos, err := h.positions.CloseManual(r.Context(), id, *price)
	if err != nil {
		writeServiceError(w, r, h.logger, "close position", err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

// Evaluate runs one monitored evaluation of the position now.
// POST /api/positions/{id}/evaluate
func (h *PositionHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	out, err := h.evaluator.EvaluateOne(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "evaluate position", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"price":    out.Price,
		"result":   toResultResponse(out.Result),
		"position": toPositionResponse(out.Position),
	})
}

type evaluationRecordResponse struct {
	Price        decimal.Decimal  `json:"price"`
	StopLoss     *decimal.Decimal `json:"stop_loss"`
	TakeProfit   *decimal.Decimal `json:"take_profit"`
	TrailingHigh decimal.Decimal  `json:"trailing_high"`
	Result       resultResponse   `json:"result"`
	EvaluatedAt  time.Time        `json:"evaluated_at"`
}

// Evaluations lists the journaled evaluations of a position, newest first.
// GET /api/positions/{id}/evaluations?limit=
func (h *PositionHandler) Evaluations(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "evaluation journal disabled")
		return
	}
	recs, err := h.journal.ListByPosition(r.Context(), r.PathValue("id"), parseListOpts(r).Limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "list evaluations", err)
		return
	}

	out := make([]evaluationRecordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, evaluationRecordResponse{
			Price:        rec.Price,
			StopLoss:     rec.StopLoss,
			TakeProfit:   rec.TakeProfit,
			TrailingHigh: rec.TrailingHigh,
			Result:       toResultResponse(rec.Result),
			EvaluatedAt:  rec.EvaluatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": out})
}
