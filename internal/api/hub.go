package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	subscriberSize = 32
)

// Message is one frame pushed to websocket clients
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BookSource returns the aggregated book to push to clients
type BookSource func(ctx context.Context) (exchange.OrderBook, error)

// Hub fans book and trade updates out to websocket clients. A client that
// cannot keep up misses frames rather than slowing the publisher.
type Hub struct {
	mu       sync.RWMutex
	subs     map[chan []byte]struct{}
	book     BookSource
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub accepts websocket upgrades from the same browser origins the CORS
// layer admits. With no origins configured only same-origin pages may connect.
func NewHub(book BookSource, origins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs: make(map[chan []byte]struct{}),
		book: book,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(origins),
		},
		logger: logger.With("component", "ws-hub"),
	}
}

// originChecker returns nil for an empty list, which makes the upgrader fall
// back to its same-origin check. Requests without an Origin header come from
// non-browser clients and are always admitted.
func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}

func (h *Hub) subscribe() chan []byte {
	ch := make(chan []byte, subscriberSize)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

func (h *Hub) bookMessage(ctx context.Context) (Message, error) {
	book, err := h.book(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: "orderbook", Data: book}, nil
}

// BookChanged pushes the current book to every client
func (h *Hub) BookChanged(ctx context.Context) {
	if h.Clients() == 0 {
		return
	}
	msg, err := h.bookMessage(ctx)
	if err != nil {
		h.logger.Error("failed to load order book", "error", err)
		return
	}
	h.broadcast(msg)
}

// TradesExecuted pushes newly executed trades to every client
func (h *Hub) TradesExecuted(ctx context.Context, trades []*models.Trade) {
	if h.Clients() == 0 {
		return
	}
	h.broadcast(Message{Type: "trades", Data: toTradeResponses(trades)})
}

// ServeWS upgrades the connection, sends the current book and then streams
// updates until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	// reads only serve to notice the client closing and to handle pongs
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if msg, err := h.bookMessage(r.Context()); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	} else {
		h.logger.Error("failed to load order book", "error", err)
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case data := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
