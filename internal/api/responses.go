package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/auth"
	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/models"
)

type orderResponse struct {
	ID        uuid.UUID       `json:"id"`
	Side      models.Side     `json:"side"`
	Status    models.Status   `json:"status"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Filled    decimal.Decimal `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toOrderResponse(o *models.Order) orderResponse {
	return orderResponse{
		ID:        o.ID,
		Side:      o.Side,
		Status:    o.Status,
		Price:     o.Price.Decimal(),
		Amount:    o.Amount.Decimal(),
		Filled:    o.Filled.Decimal(),
		Remaining: o.Remaining(),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func toOrderResponses(orders []*models.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

type tradeResponse struct {
	ID          uuid.UUID       `json:"id"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id"`
	SellOrderID uuid.UUID       `json:"sell_order_id"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	MakerFee    decimal.Decimal `json:"maker_fee"`
	TakerFee    decimal.Decimal `json:"taker_fee"`
	TakerSide   models.Side     `json:"taker_side"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

func toTradeResponse(t *models.Trade) tradeResponse {
	return tradeResponse{
		ID:          t.ID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Price:       t.Price.Decimal(),
		Amount:      t.Amount.Decimal(),
		MakerFee:    t.MakerFee.Decimal(),
		TakerFee:    t.TakerFee.Decimal(),
		TakerSide:   t.TakerSide,
		ExecutedAt:  t.ExecutedAt,
	}
}

func toTradeResponses(trades []*models.Trade) []tradeResponse {
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	return out
}

// historyResponse is a trade as seen by one of its participants
type historyResponse struct {
	tradeResponse
	Side models.Side     `json:"side"`
	Fee  decimal.Decimal `json:"fee"`
}

func toHistoryResponses(entries []exchange.HistoryEntry) []historyResponse {
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			tradeResponse: toTradeResponse(e.Trade),
			Side:          e.Side,
			Fee:           e.Fee.Decimal(),
		})
	}
	return out
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps a service error to an HTTP status and public code
func statusFor(err error) (int, string) {
	if errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized, "invalid_token"
	}
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest, "invalid_request"
	case models.KindDomain:
		var de *models.DomainError
		errors.As(err, &de)
		switch de {
		case models.ErrOrderNotFound, models.ErrTradeNotFound, models.ErrAccountNotFound:
			return http.StatusNotFound, de.Code
		case models.ErrUnauthorized:
			return http.StatusForbidden, de.Code
		case models.ErrInvalidCredentials:
			return http.StatusUnauthorized, de.Code
		case models.ErrAccountExists:
			return http.StatusConflict, de.Code
		}
		return http.StatusUnprocessableEntity, de.Code
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
