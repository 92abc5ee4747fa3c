package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/auth"
	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/models"
)

const defaultBookLevels = 50

type ctxKey struct{}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Exchange    *exchange.Service
	AuthService *auth.AuthService
	Hub         *Hub
	Logger      *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(ex *exchange.Service, authService *auth.AuthService, hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Exchange: ex, AuthService: authService, Hub: hub, Logger: logger}
}

// RouterConfig holds the options of the HTTP surface that live outside the handler
type RouterConfig struct {
	CORSOrigins []string
	Metrics     http.Handler
	MetricsPath string
}

// allowCredentials reports whether credentialed cross-origin requests may be
// allowed. An empty list means any origin to the CORS layer, same as "*".
func allowCredentials(origins []string) bool {
	return len(origins) > 0 && !slices.Contains(origins, "*")
}

// NewRouter wires every route of the API
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: allowCredentials(cfg.CORSOrigins),
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Get("/orderbook", h.GetOrderBook)
		r.Get("/trades/recent", h.GetRecentTrades)
		if h.Hub != nil {
			r.Get("/ws", h.Hub.ServeWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(h.JWTAuthMiddleware)
			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders", h.GetActiveOrders)
			r.Delete("/orders/{id}", h.CancelOrder)
			r.Get("/trades", h.GetMyTrades)
			r.Get("/stats", h.GetStatistics)
		})
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.Logger.DebugContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("took", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles account registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       account.ID,
		"username": account.Name,
	})
}

// Login handles account login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies bearer tokens and stores the account id in the context
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		accountID, err := h.AuthService.AccountFromToken(tokenString)
		if err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(ctxKey{}).(uuid.UUID)
	return id, ok
}

// PlaceOrder accepts a limit order. Matching happens asynchronously, so the
// response only confirms the order was accepted.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := accountID(r)
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Side   string          `json:"side"`
		Price  decimal.Decimal `json:"price"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	side, err := models.ParseSide(req.Side)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Exchange.PlaceOrder(r.Context(), exchange.PlaceOrderRequest{
		OwnerID: ownerID,
		Side:    side,
		Price:   req.Price,
		Amount:  req.Amount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// CancelOrder cancels a resting order and releases its reservation
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := accountID(r)
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.Exchange.CancelOrder(r.Context(), ownerID, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// GetActiveOrders lists the caller's resting orders
func (h *Handler) GetActiveOrders(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := accountID(r)
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orders, err := h.Exchange.GetMyActiveOrders(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

// GetMyTrades lists the trades the caller took part in
func (h *Handler) GetMyTrades(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := accountID(r)
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	history, err := h.Exchange.GetMyHistory(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toHistoryResponses(history))
}

// GetStatistics returns market statistics and the caller's balances
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := accountID(r)
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.Exchange.GetStatistics(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetOrderBook returns the aggregated book, ?levels limits the depth per side
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	levels, ok := intParam(w, r, "levels", defaultBookLevels)
	if !ok {
		return
	}

	book, err := h.Exchange.GetOrderBook(r.Context(), levels)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, book)
}

// GetRecentTrades returns the latest trades of the market
func (h *Handler) GetRecentTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", exchange.DefaultRecentTrades)
	if !ok {
		return
	}

	trades, err := h.Exchange.GetRecentTrades(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTradeResponses(trades))
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}
