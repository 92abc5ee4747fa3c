package exchange

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/metrics"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/queue"
	"github.com/xtrntr/spotex/internal/store"
)

// Listener is told about committed changes to the book
type Listener interface {
	BookChanged(ctx context.Context)
	TradesExecuted(ctx context.Context, trades []*models.Trade)
}

// Outcome is the committed result of matching one order
type Outcome struct {
	Order  *models.Order
	Trades []*models.Trade
}

// Daemon is the single consumer of the intake queue. It matches one order
// at a time, so every order sees a consistent book. Run exactly one per
// deployment.
type Daemon struct {
	store      store.Store
	queue      queue.Queue
	engine     *Engine
	feeAccount string
	retryDelay time.Duration
	listener   Listener
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewDaemon(st store.Store, q queue.Queue, engine *Engine, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Daemon {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		store:      st,
		queue:      q,
		engine:     engine,
		feeAccount: cfg.FeeAccount,
		retryDelay: cfg.RetryDelay,
		metrics:    m,
		logger:     logger.With("component", "matching-daemon"),
	}
}

func (d *Daemon) SetListener(l Listener) {
	d.listener = l
}

// Run consumes the queue until ctx is cancelled. Failures of a single order
// are logged and the loop moves on to the next one.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("matching daemon started", "fee_account", d.feeAccount)
	for {
		if ctx.Err() != nil {
			d.logger.Info("matching daemon stopped")
			return nil
		}

		order, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			d.logger.Error("failed to dequeue order", "error", err, "retry_in", d.retryDelay)
			select {
			case <-ctx.Done():
			case <-time.After(d.retryDelay):
			}
			continue
		}
		if order == nil {
			continue
		}

		if _, err := d.Process(ctx, order); err != nil {
			d.logger.Error("failed to process order", "order_id", order.ID, "error", err)
		}
	}
}

// Process matches one dequeued order against the opposite side of the book
// and persists trades, orders and balances as one unit. The queued copy is
// only used for its id: the stored order is authoritative, so an order that
// was cancelled or already matched is skipped and a nil Outcome returned.
// The unit is not interrupted by cancellation of ctx.
func (d *Daemon) Process(ctx context.Context, queued *models.Order) (*Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	var out *Outcome
	err := d.store.Atomic(ctx, func(tx store.Store) error {
		out = nil
		taker, err := tx.Orders().FindByID(ctx, queued.ID)
		if errors.Is(err, models.ErrOrderNotFound) {
			d.logger.Warn("skipping unknown order", "order_id", queued.ID)
			return nil
		}
		if err != nil {
			return models.Infra("load order", err)
		}
		if !taker.IsResting() {
			d.logger.Info("skipping order that is no longer open", "order_id", taker.ID, "status", taker.Status)
			return nil
		}

		var book []*models.Order
		if taker.Side == models.SideBuy {
			book, err = tx.Orders().FindOpenSells(ctx)
		} else {
			book, err = tx.Orders().FindOpenBuys(ctx)
		}
		if err != nil {
			return models.Infra("load book", err)
		}

		fills, err := d.engine.Match(taker, book)
		if err != nil {
			return err
		}
		out = &Outcome{Order: taker}
		if len(fills) == 0 {
			return nil
		}

		accounts, err := d.settle(ctx, tx, taker, fills)
		if err != nil {
			return err
		}

		for _, f := range fills {
			if err := tx.Trades().Save(ctx, f.Trade); err != nil {
				return models.Infra("save trade", err)
			}
			if err := tx.Orders().Save(ctx, f.Maker); err != nil {
				return models.Infra("save maker order", err)
			}
			out.Trades = append(out.Trades, f.Trade)
		}
		if err := tx.Orders().Save(ctx, taker); err != nil {
			return models.Infra("save taker order", err)
		}
		for _, a := range accounts {
			if err := tx.Accounts().Save(ctx, a); err != nil {
				return models.Infra("save account", err)
			}
		}
		return nil
	})
	if err != nil {
		d.metrics.MatchFailed()
		d.metrics.OrderProcessed("failed", 0, 0, time.Since(start))
		return nil, err
	}
	if out == nil {
		d.metrics.OrderProcessed("skipped", 0, 0, time.Since(start))
		return nil, nil
	}

	volume := decimal.Zero
	for _, t := range out.Trades {
		volume = volume.Add(t.Amount.Decimal())
	}
	outcome := "resting"
	if len(out.Trades) > 0 {
		outcome = "matched"
	}
	d.metrics.OrderProcessed(outcome, len(out.Trades), volume.InexactFloat64(), time.Since(start))
	d.logger.Info("order processed",
		"order_id", out.Order.ID,
		"side", out.Order.Side,
		"status", out.Order.Status,
		"trades", len(out.Trades),
		"filled", out.Order.Filled.String(),
	)

	if d.listener != nil {
		if len(out.Trades) > 0 {
			d.listener.TradesExecuted(ctx, out.Trades)
		}
		d.listener.BookChanged(ctx)
	}
	return out, nil
}

// settle applies every fill to the accounts involved. Each account is loaded
// once so a self-trade, or an owner that is also the fee account, sees its
// own earlier updates. The touched accounts are returned sorted by id.
func (d *Daemon) settle(ctx context.Context, tx store.Store, taker *models.Order, fills []Fill) ([]*models.Account, error) {
	accounts := make(map[uuid.UUID]*models.Account)

	fee, err := tx.Accounts().FindByName(ctx, d.feeAccount)
	if err != nil {
		return nil, models.Infra("load fee account", err)
	}
	accounts[fee.ID] = fee

	load := func(id uuid.UUID) (*models.Account, error) {
		if a, ok := accounts[id]; ok {
			return a, nil
		}
		a, err := tx.Accounts().FindByID(ctx, id)
		if err != nil {
			return nil, models.Infra("load account", err)
		}
		accounts[id] = a
		return a, nil
	}

	for _, f := range fills {
		buyOwner, sellOwner := taker.OwnerID, f.Maker.OwnerID
		if taker.Side == models.SideSell {
			buyOwner, sellOwner = sellOwner, buyOwner
		}
		buyer, err := load(buyOwner)
		if err != nil {
			return nil, err
		}
		seller, err := load(sellOwner)
		if err != nil {
			return nil, err
		}
		if err := d.engine.Settle(f, buyer, seller, fee); err != nil {
			return nil, err
		}
	}

	touched := make([]*models.Account, 0, len(accounts))
	for _, a := range accounts {
		touched = append(touched, a)
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i].ID.String() < touched[j].ID.String() })
	return touched, nil
}
