package exchange

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/metrics"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/queue"
	"github.com/xtrntr/spotex/internal/store"
)

const (
	DefaultFeeAccount  = "exchange-fees"
	DefaultStatsWindow = 24 * time.Hour
	DefaultRetryDelay  = time.Second
)

// Config tunes the workflows and the daemon. Zero values take defaults.
type Config struct {
	FeeAccount  string
	StatsWindow time.Duration
	RetryDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.FeeAccount == "" {
		c.FeeAccount = DefaultFeeAccount
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = DefaultStatsWindow
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Service runs placement, cancellation and the read queries. It never
// matches; that is left to the Daemon.
type Service struct {
	store    store.Store
	queue    queue.Queue
	cfg      Config
	listener Listener
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(st store.Store, q queue.Queue, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		queue:   q,
		cfg:     cfg.withDefaults(),
		metrics: m,
		logger:  logger.With("component", "exchange"),
		now:     time.Now,
	}
}

func (s *Service) SetListener(l Listener) {
	s.listener = l
}

// EnsureFeeAccount creates the account collecting trading fees if missing.
// It has no password and cannot sign in.
func (s *Service) EnsureFeeAccount(ctx context.Context) (*models.Account, error) {
	var acct *models.Account
	err := s.store.Atomic(ctx, func(tx store.Store) error {
		found, err := tx.Accounts().FindByName(ctx, s.cfg.FeeAccount)
		if err == nil {
			acct = found
			return nil
		}
		if !errors.Is(err, models.ErrAccountNotFound) {
			return models.Infra("load fee account", err)
		}
		acct, err = models.NewAccount(s.cfg.FeeAccount, "", decimal.Zero, decimal.Zero, s.now())
		if err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, acct); err != nil {
			return models.Infra("create fee account", err)
		}
		s.logger.Info("created fee account", "name", acct.Name, "account_id", acct.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

type PlaceOrderRequest struct {
	OwnerID uuid.UUID
	Side    models.Side
	Price   decimal.Decimal
	Amount  decimal.Decimal
}

type PlaceOrderResult struct {
	OrderID uuid.UUID       `json:"order_id"`
	Status  models.Status   `json:"status"`
	Price   decimal.Decimal `json:"price"`
	Amount  decimal.Decimal `json:"amount"`
}

// PlaceOrder reserves the funds the order may spend, stores it OPEN and
// queues it for matching. The result reflects the order as accepted, never
// its match outcome.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	order, err := models.NewOrder(req.OwnerID, req.Side, req.Price, req.Amount, s.now())
	if err != nil {
		return nil, err
	}

	err = s.store.Atomic(ctx, func(tx store.Store) error {
		acct, err := tx.Accounts().FindByID(ctx, req.OwnerID)
		if err != nil {
			return models.Infra("load account", err)
		}
		asset, amount := order.Reservation()
		if err := acct.Debit(asset, amount, order.CreatedAt); err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, acct); err != nil {
			return models.Infra("save account", err)
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return models.Infra("save order", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Enqueue after commit so the daemon always finds the stored order. If
	// the queue rejects it the reservation is handed back.
	if err := s.queue.Enqueue(ctx, order); err != nil {
		s.logger.Error("failed to enqueue order, releasing reservation", "order_id", order.ID, "error", err)
		if _, rerr := s.cancel(context.WithoutCancel(ctx), order.OwnerID, order.ID); rerr != nil {
			s.logger.Error("failed to release reservation", "order_id", order.ID, "error", rerr)
		}
		return nil, models.Infra("enqueue order", err)
	}

	s.metrics.OrderPlaced(string(order.Side))
	s.logger.Info("order placed",
		"order_id", order.ID,
		"owner_id", order.OwnerID,
		"side", order.Side,
		"price", order.Price.String(),
		"amount", order.Amount.String(),
	)
	s.notifyBook(ctx)

	return &PlaceOrderResult{
		OrderID: order.ID,
		Status:  order.Status,
		Price:   order.Price.Decimal(),
		Amount:  order.Amount.Decimal(),
	}, nil
}

// CancelOrder cancels a resting order of ownerID and refunds what is still
// reserved for it.
func (s *Service) CancelOrder(ctx context.Context, ownerID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.cancel(ctx, ownerID, orderID)
	if err != nil {
		return nil, err
	}
	s.metrics.OrderCancelled()
	s.logger.Info("order cancelled", "order_id", order.ID, "owner_id", ownerID)
	s.notifyBook(ctx)
	return order, nil
}

func (s *Service) cancel(ctx context.Context, ownerID, orderID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.store.Atomic(ctx, func(tx store.Store) error {
		o, err := tx.Orders().FindByID(ctx, orderID)
		if err != nil {
			return models.Infra("load order", err)
		}
		if o.OwnerID != ownerID {
			return models.ErrUnauthorized
		}

		now := s.now()
		asset, refund := o.Reservation()
		if err := o.Cancel(now); err != nil {
			return err
		}

		acct, err := tx.Accounts().FindByID(ctx, ownerID)
		if err != nil {
			return models.Infra("load account", err)
		}
		if err := acct.Credit(asset, refund, now); err != nil {
			return err
		}
		if err := tx.Orders().Save(ctx, o); err != nil {
			return models.Infra("save order", err)
		}
		if err := tx.Accounts().Save(ctx, acct); err != nil {
			return models.Infra("save account", err)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) notifyBook(ctx context.Context) {
	if s.listener != nil {
		s.listener.BookChanged(ctx)
	}
}
