package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/spotex/internal/auth"
	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/metrics"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/queue"
	"github.com/xtrntr/spotex/internal/store"
)

type testAPI struct {
	t      *testing.T
	server *httptest.Server
	queue  *queue.Memory
	daemon *exchange.Daemon
}

func newTestAPI(t *testing.T, origins ...string) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	q := queue.NewMemory()
	m := metrics.New(nil)

	svc := exchange.NewService(st, q, exchange.Config{}, m, logger)
	_, err := svc.EnsureFeeAccount(context.Background())
	require.NoError(t, err)
	daemon := exchange.NewDaemon(st, q, exchange.NewEngine(), exchange.Config{}, m, logger)
	authService := auth.NewAuthService(st, auth.NewTokens("test-secret", time.Hour), decimal.NewFromInt(10), decimal.NewFromInt(100000))

	hub := NewHub(func(ctx context.Context) (exchange.OrderBook, error) {
		return svc.GetOrderBook(ctx, defaultBookLevels)
	}, origins, logger)
	svc.SetListener(hub)
	daemon.SetListener(hub)

	h := NewHandler(svc, authService, hub, logger)
	server := httptest.NewServer(NewRouter(h, RouterConfig{CORSOrigins: origins, Metrics: m.Handler()}))
	t.Cleanup(server.Close)

	return &testAPI{t: t, server: server, queue: q, daemon: daemon}
}

func (a *testAPI) do(method, path, token string, body any) (int, []byte) {
	a.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.server.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	return resp.StatusCode, data
}

// signUp registers name and returns a token for it
func (a *testAPI) signUp(name string) string {
	a.t.Helper()
	creds := map[string]string{"username": name, "password": "password123"}
	status, body := a.do(http.MethodPost, "/api/register", "", creds)
	require.Equal(a.t, http.StatusCreated, status, string(body))

	status, body = a.do(http.MethodPost, "/api/login", "", creds)
	require.Equal(a.t, http.StatusOK, status, string(body))
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(a.t, json.Unmarshal(body, &resp))
	require.NotEmpty(a.t, resp.Token)
	return resp.Token
}

func (a *testAPI) placeOrder(token, side, price, amount string) map[string]any {
	a.t.Helper()
	status, body := a.do(http.MethodPost, "/api/orders", token, map[string]string{
		"side": side, "price": price, "amount": amount,
	})
	require.Equal(a.t, http.StatusCreated, status, string(body))
	return decodeObject(a.t, body)
}

func (a *testAPI) drain() {
	a.t.Helper()
	ctx := context.Background()
	for a.queue.Len() > 0 {
		order, err := a.queue.Dequeue(ctx)
		require.NoError(a.t, err)
		_, err = a.daemon.Process(ctx, order)
		require.NoError(a.t, err)
	}
}

func decodeObject(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

func decodeList(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var v []map[string]any
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

func assertDecimal(t *testing.T, want string, got any) {
	t.Helper()
	s, ok := got.(string)
	require.True(t, ok, "expected a decimal string, got %#v", got)
	assert.True(t, decimal.RequireFromString(want).Equal(decimal.RequireFromString(s)), "want %s, got %s", want, s)
}

func TestRegisterAndLogin(t *testing.T) {
	api := newTestAPI(t)
	api.signUp("alice")

	status, body := api.do(http.MethodPost, "/api/register", "", map[string]string{"username": "alice", "password": "other"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "account_exists", decodeObject(t, body)["code"])

	status, _ = api.do(http.MethodPost, "/api/register", "", map[string]string{"username": "", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(http.MethodPost, "/api/register", "", "{not json")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = api.do(http.MethodPost, "/api/login", "", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", decodeObject(t, body)["code"])

	status, _ = api.do(http.MethodPost, "/api/login", "", map[string]string{"username": "nobody", "password": "password123"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestJWTAuthMiddleware(t *testing.T) {
	api := newTestAPI(t)

	status, _ := api.do(http.MethodGet, "/api/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = api.do(http.MethodGet, "/api/orders", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	other, err := auth.NewTokens("other-secret", time.Hour).Sign(uuid.New())
	require.NoError(t, err)
	status, _ = api.do(http.MethodGet, "/api/orders", other, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	token := api.signUp("alice")
	status, body := api.do(http.MethodGet, "/api/orders", token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, decodeList(t, body))
}

func TestPlaceOrder(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp("alice")

	res := api.placeOrder(token, "buy", "10000", "0.5")
	assert.Equal(t, "OPEN", res["status"])
	assertDecimal(t, "10000", res["price"])
	assertDecimal(t, "0.5", res["amount"])
	_, err := uuid.Parse(res["order_id"].(string))
	assert.NoError(t, err)

	status, body := api.do(http.MethodGet, "/api/stats", token, nil)
	require.Equal(t, http.StatusOK, status)
	stats := decodeObject(t, body)
	assertDecimal(t, "94975", stats["quote_balance"])
	assertDecimal(t, "10", stats["base_balance"])

	status, body = api.do(http.MethodGet, "/api/orders", token, nil)
	require.Equal(t, http.StatusOK, status)
	orders := decodeList(t, body)
	require.Len(t, orders, 1)
	assert.Equal(t, res["order_id"], orders[0]["id"])
	assert.Equal(t, "BUY", orders[0]["side"])
	assertDecimal(t, "0.5", orders[0]["remaining"])
}

func TestPlaceOrder_Rejected(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp("alice")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"bad json", "{", http.StatusBadRequest, ""},
		{"bad side", map[string]string{"side": "hold", "price": "1", "amount": "1"}, http.StatusBadRequest, "invalid_request"},
		{"zero price", map[string]string{"side": "buy", "price": "0", "amount": "1"}, http.StatusBadRequest, "invalid_request"},
		{"negative amount", map[string]string{"side": "sell", "price": "1", "amount": "-1"}, http.StatusBadRequest, "invalid_request"},
		{"too precise", map[string]string{"side": "sell", "price": "1", "amount": "0.000000001"}, http.StatusBadRequest, "invalid_request"},
		{"not enough quote", map[string]string{"side": "buy", "price": "100000", "amount": "2"}, http.StatusUnprocessableEntity, "insufficient_funds"},
		{"not enough base", map[string]string{"side": "sell", "price": "100", "amount": "11"}, http.StatusUnprocessableEntity, "insufficient_funds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := api.do(http.MethodPost, "/api/orders", token, tt.body)
			assert.Equal(t, tt.status, status, string(body))
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeObject(t, body)["code"])
			}
		})
	}

	status, body := api.do(http.MethodGet, "/api/orders", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decodeList(t, body))
}

func TestCancelOrder(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signUp("alice")
	bob := api.signUp("bob")

	res := api.placeOrder(alice, "sell", "20000", "2")
	id := res["order_id"].(string)

	status, body := api.do(http.MethodDelete, "/api/orders/"+id, bob, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "unauthorized", decodeObject(t, body)["code"])

	status, _ = api.do(http.MethodDelete, "/api/orders/not-a-uuid", alice, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(http.MethodDelete, "/api/orders/"+uuid.NewString(), alice, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = api.do(http.MethodDelete, "/api/orders/"+id, alice, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	order := decodeObject(t, body)
	assert.Equal(t, "CANCELLED", order["status"])

	status, body = api.do(http.MethodDelete, "/api/orders/"+id, alice, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "order_not_cancellable", decodeObject(t, body)["code"])

	status, body = api.do(http.MethodGet, "/api/stats", alice, nil)
	require.Equal(t, http.StatusOK, status)
	assertDecimal(t, "10", decodeObject(t, body)["base_balance"])
}

func TestTradingFlow(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signUp("alice")
	bob := api.signUp("bob")

	api.placeOrder(alice, "sell", "10000", "1")
	api.drain()

	status, body := api.do(http.MethodGet, "/api/orderbook", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"bids":[],"asks":[["10000","1"]]}`, string(body))

	api.placeOrder(bob, "buy", "10000", "1")
	api.drain()

	status, body = api.do(http.MethodGet, "/api/orderbook", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"bids":[],"asks":[]}`, string(body))

	status, body = api.do(http.MethodGet, "/api/trades/recent", "", nil)
	require.Equal(t, http.StatusOK, status)
	trades := decodeList(t, body)
	require.Len(t, trades, 1)
	assertDecimal(t, "10000", trades[0]["price"])
	assertDecimal(t, "1", trades[0]["amount"])
	assertDecimal(t, "50", trades[0]["maker_fee"])
	assertDecimal(t, "30", trades[0]["taker_fee"])
	assert.Equal(t, "BUY", trades[0]["taker_side"])

	status, body = api.do(http.MethodGet, "/api/trades", bob, nil)
	require.Equal(t, http.StatusOK, status)
	mine := decodeList(t, body)
	require.Len(t, mine, 1)
	assert.Equal(t, "BUY", mine[0]["side"])
	assertDecimal(t, "30", mine[0]["fee"])
	assert.Equal(t, trades[0]["id"], mine[0]["id"])

	status, body = api.do(http.MethodGet, "/api/trades", alice, nil)
	require.Equal(t, http.StatusOK, status)
	mine = decodeList(t, body)
	require.Len(t, mine, 1)
	assert.Equal(t, "SELL", mine[0]["side"])
	assertDecimal(t, "50", mine[0]["fee"])

	status, body = api.do(http.MethodGet, "/api/stats", bob, nil)
	require.Equal(t, http.StatusOK, status)
	stats := decodeObject(t, body)
	assertDecimal(t, "10000", stats["last_price"])
	assertDecimal(t, "1", stats["volume"])
	assert.EqualValues(t, 1, stats["trades"])
	assertDecimal(t, "11", stats["base_balance"])
	assertDecimal(t, "89970", stats["quote_balance"])

	status, body = api.do(http.MethodGet, "/api/stats", alice, nil)
	require.Equal(t, http.StatusOK, status)
	stats = decodeObject(t, body)
	assertDecimal(t, "9", stats["base_balance"])
	assertDecimal(t, "109950", stats["quote_balance"])
}

func TestQueryParams(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp("alice")
	for _, price := range []string{"100", "101", "102"} {
		api.placeOrder(token, "buy", price, "1")
	}
	api.drain()

	status, body := api.do(http.MethodGet, "/api/orderbook?levels=2", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"bids":[["102","1"],["101","1"]],"asks":[]}`, string(body))

	for _, path := range []string{"/api/orderbook?levels=abc", "/api/orderbook?levels=-1", "/api/trades/recent?limit=0"} {
		status, _ := api.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusBadRequest, status, path)
	}

	status, body = api.do(http.MethodGet, "/api/trades/recent?limit=5", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decodeList(t, body))
}

func TestHealthzAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	token := api.signUp("alice")
	api.placeOrder(token, "buy", "100", "1")

	status, body = api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `exchange_orders_placed_total{side="BUY"} 1`)
}

func TestHub_StreamsBookUpdates(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp("alice")

	url := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() (string, json.RawMessage) {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		return msg.Type, msg.Data
	}

	typ, data := read()
	assert.Equal(t, "orderbook", typ)
	assert.JSONEq(t, `{"bids":[],"asks":[]}`, string(data))

	api.placeOrder(token, "buy", "9000", "1")
	typ, data = read()
	assert.Equal(t, "orderbook", typ)
	assert.JSONEq(t, `{"bids":[["9000","1"]],"asks":[]}`, string(data))

	api.drain()
	typ, _ = read()
	assert.Equal(t, "orderbook", typ)

	bob := api.signUp("bob")
	api.placeOrder(bob, "sell", "9000", "1")
	typ, _ = read()
	assert.Equal(t, "orderbook", typ)

	api.drain()
	typ, data = read()
	assert.Equal(t, "trades", typ)
	var trades []map[string]any
	require.NoError(t, json.Unmarshal(data, &trades))
	require.Len(t, trades, 1)
	assertDecimal(t, "9000", trades[0]["price"])
	assert.Equal(t, "SELL", trades[0]["taker_side"])

	typ, data = read()
	assert.Equal(t, "orderbook", typ)
	assert.JSONEq(t, `{"bids":[],"asks":[]}`, string(data))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&models.ValidationError{Field: "price", Reason: "must be positive"}, http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("wrapped: %w", models.ErrInsufficientFunds), http.StatusUnprocessableEntity, "insufficient_funds"},
		{models.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{models.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
		{models.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
		{models.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{models.ErrAccountExists, http.StatusConflict, "account_exists"},
		{models.ErrOrderNotCancellable, http.StatusUnprocessableEntity, "order_not_cancellable"},
		{fmt.Errorf("%w: expired", auth.ErrInvalidToken), http.StatusUnauthorized, "invalid_token"},
		{models.Infra("save order", errors.New("connection reset")), http.StatusInternalServerError, "internal"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestHub_CheckOrigin(t *testing.T) {
	api := newTestAPI(t, "https://app.example.com")
	url := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/api/ws"

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"listed origin", "https://app.example.com", true},
		{"listed origin other case", "https://APP.example.com", true},
		{"unlisted origin", "https://evil.example.com", false},
		{"no origin header", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if !tt.ok {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			conn.Close()
		})
	}
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.Nil(t, originChecker(nil))

	wildcard := originChecker([]string{"*"})
	assert.True(t, wildcard(req("https://anywhere.example.com")))

	listed := originChecker([]string{"https://app.example.com/", "http://localhost:3000"})
	assert.True(t, listed(req("https://app.example.com")))
	assert.True(t, listed(req("http://localhost:3000")))
	assert.False(t, listed(req("http://localhost:3001")))
	assert.True(t, listed(req("")))
}

func TestCORSCredentials(t *testing.T) {
	assert.False(t, allowCredentials(nil))
	assert.False(t, allowCredentials([]string{"*"}))
	assert.False(t, allowCredentials([]string{"https://app.example.com", "*"}))
	assert.True(t, allowCredentials([]string{"https://app.example.com"}))

	preflight := func(api *testAPI, origin string) *http.Response {
		r, err := http.NewRequest(http.MethodOptions, api.server.URL+"/api/orders", nil)
		require.NoError(t, err)
		r.Header.Set("Origin", origin)
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(r)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := preflight(newTestAPI(t, "*"), "https://anywhere.example.com")
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))

	resp = preflight(newTestAPI(t, "https://app.example.com"), "https://app.example.com")
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}
