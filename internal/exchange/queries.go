package exchange

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
)

const (
	DefaultRecentTrades = 20
	MaxRecentTrades     = 100
)

// GetOrderBook aggregates the resting orders. depth <= 0 returns every level.
func (s *Service) GetOrderBook(ctx context.Context, depth int) (OrderBook, error) {
	buys, err := s.store.Orders().FindOpenBuys(ctx)
	if err != nil {
		return OrderBook{}, models.Infra("load bids", err)
	}
	sells, err := s.store.Orders().FindOpenSells(ctx)
	if err != nil {
		return OrderBook{}, models.Infra("load asks", err)
	}
	return AggregateBook(append(buys, sells...)).Truncate(depth), nil
}

// Statistics summarizes trading over the rolling window
type Statistics struct {
	LastPrice    decimal.Decimal `json:"last_price"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Volume       decimal.Decimal `json:"volume"`
	QuoteVolume  decimal.Decimal `json:"quote_volume"`
	Trades       int             `json:"trades"`
	BaseBalance  decimal.Decimal `json:"base_balance"`
	QuoteBalance decimal.Decimal `json:"quote_balance"`
}

// GetStatistics reports trading over the configured window together with
// the free balances of ownerID. An unknown owner gets zero balances.
func (s *Service) GetStatistics(ctx context.Context, ownerID uuid.UUID) (*Statistics, error) {
	to := s.now()
	trades, err := s.store.Trades().FindByDateRange(ctx, to.Add(-s.cfg.StatsWindow), to)
	if err != nil {
		return nil, models.Infra("load trades", err)
	}

	stats := &Statistics{Trades: len(trades)}
	var last *models.Trade
	for i, t := range trades {
		price := t.Price.Decimal()
		if i == 0 || price.GreaterThan(stats.High) {
			stats.High = price
		}
		if i == 0 || price.LessThan(stats.Low) {
			stats.Low = price
		}
		stats.Volume = stats.Volume.Add(t.Amount.Decimal())
		stats.QuoteVolume = stats.QuoteVolume.Add(t.Notional())
		if last == nil || !t.ExecutedAt.Before(last.ExecutedAt) {
			last = t
		}
	}
	if last != nil {
		stats.LastPrice = last.Price.Decimal()
	}

	acct, err := s.store.Accounts().FindByID(ctx, ownerID)
	switch {
	case err == nil:
		stats.BaseBalance = acct.Base.Decimal()
		stats.QuoteBalance = acct.Quote.Decimal()
	case !errors.Is(err, models.ErrAccountNotFound):
		return nil, models.Infra("load account", err)
	}
	return stats, nil
}

// GetRecentTrades returns the latest trades, newest first
func (s *Service) GetRecentTrades(ctx context.Context, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		limit = DefaultRecentTrades
	}
	if limit > MaxRecentTrades {
		limit = MaxRecentTrades
	}
	trades, err := s.store.Trades().FindRecent(ctx, limit)
	if err != nil {
		return nil, models.Infra("load recent trades", err)
	}
	return trades, nil
}

// HistoryEntry is a trade seen from one participant
type HistoryEntry struct {
	Trade *models.Trade
	Side  models.Side
	Fee   models.Fee
}

// GetMyHistory returns every trade of ownerID's orders, newest first
func (s *Service) GetMyHistory(ctx context.Context, ownerID uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.store.Accounts().FindByID(ctx, ownerID); err != nil {
		return nil, models.Infra("load account", err)
	}
	orders, err := s.store.Orders().FindByUser(ctx, ownerID)
	if err != nil {
		return nil, models.Infra("load orders", err)
	}

	seen := make(map[uuid.UUID]bool)
	history := []HistoryEntry{}
	for _, o := range orders {
		trades, err := s.store.Trades().FindByOrderID(ctx, o.ID)
		if err != nil {
			return nil, models.Infra("load trades", err)
		}
		for _, t := range trades {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			history = append(history, HistoryEntry{Trade: t, Side: o.Side, Fee: t.FeeFor(o.Side)})
		}
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Trade.ExecutedAt.After(history[j].Trade.ExecutedAt)
	})
	return history, nil
}

// GetMyActiveOrders returns ownerID's OPEN and PARTIAL orders, newest first
func (s *Service) GetMyActiveOrders(ctx context.Context, ownerID uuid.UUID) ([]*models.Order, error) {
	orders, err := s.store.Orders().FindByUser(ctx, ownerID)
	if err != nil {
		return nil, models.Infra("load orders", err)
	}
	active := []*models.Order{}
	for _, o := range orders {
		if o.IsResting() {
			active = append(active, o)
		}
	}
	return active, nil
}
