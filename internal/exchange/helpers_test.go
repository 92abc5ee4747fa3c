package exchange

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/queue"
	"github.com/xtrntr/spotex/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// clock advances by a millisecond on every read so timestamps are distinct
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine() *Engine {
	e := NewEngine()
	e.now = newClock().Now
	return e
}

type testExchange struct {
	store  *store.Memory
	queue  *queue.Memory
	svc    *Service
	daemon *Daemon
	fees   *models.Account
}

func newTestExchange(t *testing.T) *testExchange {
	t.Helper()
	st := store.NewMemory()
	q := queue.NewMemory()
	c := newClock()

	svc := NewService(st, q, Config{}, nil, discardLogger())
	svc.now = c.Now
	engine := NewEngine()
	engine.now = c.Now
	daemon := NewDaemon(st, q, engine, Config{}, nil, discardLogger())

	fees, err := svc.EnsureFeeAccount(context.Background())
	require.NoError(t, err)
	return &testExchange{store: st, queue: q, svc: svc, daemon: daemon, fees: fees}
}

func (x *testExchange) account(t *testing.T, name, base, quote string) uuid.UUID {
	t.Helper()
	a, err := models.NewAccount(name, "", d(base), d(quote), time.Now())
	require.NoError(t, err)
	require.NoError(t, x.store.Accounts().Save(context.Background(), a))
	return a.ID
}

func (x *testExchange) place(t *testing.T, owner uuid.UUID, side models.Side, price, amount string) uuid.UUID {
	t.Helper()
	res, err := x.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		OwnerID: owner,
		Side:    side,
		Price:   d(price),
		Amount:  d(amount),
	})
	require.NoError(t, err)
	return res.OrderID
}

// drain processes everything currently queued
func (x *testExchange) drain(t *testing.T) []*Outcome {
	t.Helper()
	var outcomes []*Outcome
	for x.queue.Len() > 0 {
		o, err := x.queue.Dequeue(context.Background())
		require.NoError(t, err)
		out, err := x.daemon.Process(context.Background(), o)
		require.NoError(t, err)
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// placeAndMatch places one order and runs it through the daemon
func (x *testExchange) placeAndMatch(t *testing.T, owner uuid.UUID, side models.Side, price, amount string) uuid.UUID {
	t.Helper()
	id := x.place(t, owner, side, price, amount)
	x.drain(t)
	return id
}

func (x *testExchange) balances(t *testing.T, id uuid.UUID) (decimal.Decimal, decimal.Decimal) {
	t.Helper()
	a, err := x.store.Accounts().FindByID(context.Background(), id)
	require.NoError(t, err)
	return a.Base.Decimal(), a.Quote.Decimal()
}

func (x *testExchange) order(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	o, err := x.store.Orders().FindByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

// totals sums free balances of the given accounts plus the fee account and
// what resting orders still hold in reserve
func (x *testExchange) totals(t *testing.T, ids ...uuid.UUID) (decimal.Decimal, decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	base, quote := decimal.Zero, decimal.Zero
	for _, id := range append(ids, x.fees.ID) {
		b, q := x.balances(t, id)
		base, quote = base.Add(b), quote.Add(q)
	}
	buys, err := x.store.Orders().FindOpenBuys(ctx)
	require.NoError(t, err)
	sells, err := x.store.Orders().FindOpenSells(ctx)
	require.NoError(t, err)
	for _, o := range append(buys, sells...) {
		asset, amount := o.Reservation()
		if asset == models.AssetBase {
			base = base.Add(amount)
		} else {
			quote = quote.Add(amount)
		}
	}
	return base, quote
}
