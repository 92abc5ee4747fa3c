package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/spotex/internal/models"
)

type storedOrder struct {
	order models.Order
	seq   uint64
}

type storedTrade struct {
	trade models.Trade
	seq   uint64
}

type memState struct {
	seq      uint64
	orders   map[uuid.UUID]storedOrder
	trades   map[uuid.UUID]storedTrade
	accounts map[uuid.UUID]models.Account
	names    map[string]uuid.UUID
}

func newMemState() *memState {
	return &memState{
		orders:   make(map[uuid.UUID]storedOrder),
		trades:   make(map[uuid.UUID]storedTrade),
		accounts: make(map[uuid.UUID]models.Account),
		names:    make(map[string]uuid.UUID),
	}
}

// Values are stored by value, so a shallow map copy is a full snapshot.
func (s *memState) clone() *memState {
	c := &memState{
		seq:      s.seq,
		orders:   make(map[uuid.UUID]storedOrder, len(s.orders)),
		trades:   make(map[uuid.UUID]storedTrade, len(s.trades)),
		accounts: make(map[uuid.UUID]models.Account, len(s.accounts)),
		names:    make(map[string]uuid.UUID, len(s.names)),
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.trades {
		c.trades[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.names {
		c.names[k] = v
	}
	return c
}

// Memory is an in-memory Store. Atomic units are serialized and applied to a
// copy of the state that replaces the live state only when fn succeeds.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

func (m *Memory) with(fn func(*memState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

func (m *Memory) Orders() Orders     { return memOrders{with: m.with} }
func (m *Memory) Trades() Trades     { return memTrades{with: m.with} }
func (m *Memory) Accounts() Accounts { return memAccounts{with: m.with} }

func (m *Memory) Atomic(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	draft := m.state.clone()
	if err := fn(&memTx{state: draft}); err != nil {
		return err
	}
	m.state = draft
	return nil
}

// memTx operates on a draft owned by the goroutine holding Memory.mu
type memTx struct {
	state *memState
}

func (t *memTx) with(fn func(*memState) error) error {
	return fn(t.state)
}

func (t *memTx) Orders() Orders     { return memOrders{with: t.with} }
func (t *memTx) Trades() Trades     { return memTrades{with: t.with} }
func (t *memTx) Accounts() Accounts { return memAccounts{with: t.with} }

func (t *memTx) Atomic(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

type memOrders struct {
	with func(func(*memState) error) error
}

func (r memOrders) Save(ctx context.Context, order *models.Order) error {
	return r.with(func(s *memState) error {
		stored, ok := s.orders[order.ID]
		if !ok {
			s.seq++
			stored.seq = s.seq
		}
		stored.order = *order
		s.orders[order.ID] = stored
		return nil
	})
}

func (r memOrders) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var out *models.Order
	err := r.with(func(s *memState) error {
		stored, ok := s.orders[id]
		if !ok {
			return models.ErrOrderNotFound
		}
		o := stored.order
		out = &o
		return nil
	})
	return out, err
}

func (r memOrders) FindByUser(ctx context.Context, ownerID uuid.UUID) ([]*models.Order, error) {
	orders := r.collect(func(o *models.Order) bool { return o.OwnerID == ownerID }, func(a, b storedOrder) bool {
		if !a.order.CreatedAt.Equal(b.order.CreatedAt) {
			return a.order.CreatedAt.After(b.order.CreatedAt)
		}
		return a.seq > b.seq
	})
	return orders, nil
}

func (r memOrders) FindOpenBuys(ctx context.Context) ([]*models.Order, error) {
	return r.openBook(models.SideBuy), nil
}

func (r memOrders) FindOpenSells(ctx context.Context) ([]*models.Order, error) {
	return r.openBook(models.SideSell), nil
}

func (r memOrders) Delete(ctx context.Context, id uuid.UUID) error {
	return r.with(func(s *memState) error {
		if _, ok := s.orders[id]; !ok {
			return models.ErrOrderNotFound
		}
		delete(s.orders, id)
		return nil
	})
}

// openBook sorts buy orders highest price first and sell orders lowest price
// first, then earliest time, then insertion order.
func (r memOrders) openBook(side models.Side) []*models.Order {
	return r.collect(func(o *models.Order) bool { return o.Side == side && o.IsResting() }, func(a, b storedOrder) bool {
		pa, pb := a.order.Price.Decimal(), b.order.Price.Decimal()
		if !pa.Equal(pb) {
			if side == models.SideBuy {
				return pa.GreaterThan(pb)
			}
			return pa.LessThan(pb)
		}
		if !a.order.CreatedAt.Equal(b.order.CreatedAt) {
			return a.order.CreatedAt.Before(b.order.CreatedAt)
		}
		return a.seq < b.seq
	})
}

func (r memOrders) collect(keep func(*models.Order) bool, less func(a, b storedOrder) bool) []*models.Order {
	var matched []storedOrder
	r.with(func(s *memState) error {
		for _, stored := range s.orders {
			if keep(&stored.order) {
				matched = append(matched, stored)
			}
		}
		return nil
	})
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	orders := make([]*models.Order, 0, len(matched))
	for i := range matched {
		o := matched[i].order
		orders = append(orders, &o)
	}
	return orders
}

type memTrades struct {
	with func(func(*memState) error) error
}

func (r memTrades) Save(ctx context.Context, trade *models.Trade) error {
	return r.with(func(s *memState) error {
		if _, ok := s.trades[trade.ID]; ok {
			return nil
		}
		s.seq++
		s.trades[trade.ID] = storedTrade{trade: *trade, seq: s.seq}
		return nil
	})
}

func (r memTrades) FindByID(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	var out *models.Trade
	err := r.with(func(s *memState) error {
		stored, ok := s.trades[id]
		if !ok {
			return models.ErrTradeNotFound
		}
		t := stored.trade
		out = &t
		return nil
	})
	return out, err
}

func (r memTrades) FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]*models.Trade, error) {
	return r.collect(func(t *models.Trade) bool {
		return t.BuyOrderID == orderID || t.SellOrderID == orderID
	}, newestFirst, 0), nil
}

func (r memTrades) FindRecent(ctx context.Context, limit int) ([]*models.Trade, error) {
	return r.collect(func(*models.Trade) bool { return true }, newestFirst, limit), nil
}

func (r memTrades) FindByDateRange(ctx context.Context, from, to time.Time) ([]*models.Trade, error) {
	return r.collect(func(t *models.Trade) bool {
		return !t.ExecutedAt.Before(from) && !t.ExecutedAt.After(to)
	}, func(a, b storedTrade) bool { return newestFirst(b, a) }, 0), nil
}

func newestFirst(a, b storedTrade) bool {
	if !a.trade.ExecutedAt.Equal(b.trade.ExecutedAt) {
		return a.trade.ExecutedAt.After(b.trade.ExecutedAt)
	}
	return a.seq > b.seq
}

func (r memTrades) collect(keep func(*models.Trade) bool, less func(a, b storedTrade) bool, limit int) []*models.Trade {
	var matched []storedTrade
	r.with(func(s *memState) error {
		for _, stored := range s.trades {
			if keep(&stored.trade) {
				matched = append(matched, stored)
			}
		}
		return nil
	})
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	trades := make([]*models.Trade, 0, len(matched))
	for i := range matched {
		t := matched[i].trade
		trades = append(trades, &t)
	}
	return trades
}

type memAccounts struct {
	with func(func(*memState) error) error
}

func (r memAccounts) Save(ctx context.Context, account *models.Account) error {
	return r.with(func(s *memState) error {
		if id, ok := s.names[account.Name]; ok && id != account.ID {
			return models.ErrAccountExists
		}
		if prev, ok := s.accounts[account.ID]; ok && prev.Name != account.Name {
			delete(s.names, prev.Name)
		}
		s.accounts[account.ID] = *account
		s.names[account.Name] = account.ID
		return nil
	})
}

func (r memAccounts) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var out *models.Account
	err := r.with(func(s *memState) error {
		a, ok := s.accounts[id]
		if !ok {
			return models.ErrAccountNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (r memAccounts) FindByName(ctx context.Context, name string) (*models.Account, error) {
	var out *models.Account
	err := r.with(func(s *memState) error {
		id, ok := s.names[name]
		if !ok {
			return models.ErrAccountNotFound
		}
		a := s.accounts[id]
		out = &a
		return nil
	})
	return out, err
}
