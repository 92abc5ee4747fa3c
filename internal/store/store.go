// Package store defines the persistence contracts of the trading core and an
// in-memory implementation of them.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/spotex/internal/models"
)

// Orders persists order aggregates
type Orders interface {
	// Save inserts or updates the order by id
	Save(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// FindByUser returns all orders of an account, newest first
	FindByUser(ctx context.Context, ownerID uuid.UUID) ([]*models.Order, error)
	// FindOpenBuys returns resting buys, highest price first then oldest first
	FindOpenBuys(ctx context.Context) ([]*models.Order, error)
	// FindOpenSells returns resting sells, lowest price first then oldest first
	FindOpenSells(ctx context.Context) ([]*models.Order, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Trades persists executed trades. Trades are never updated.
type Trades interface {
	// Save inserts the trade; saving an id twice is a no-op
	Save(ctx context.Context, trade *models.Trade) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Trade, error)
	// FindByOrderID returns trades on either side of the order, newest first
	FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]*models.Trade, error)
	// FindRecent returns the latest trades, newest first
	FindRecent(ctx context.Context, limit int) ([]*models.Trade, error)
	// FindByDateRange returns trades executed in [from, to], oldest first
	FindByDateRange(ctx context.Context, from, to time.Time) ([]*models.Trade, error)
}

// Accounts persists account ledgers
type Accounts interface {
	Save(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindByName(ctx context.Context, name string) (*models.Account, error)
}

// Store groups the repositories. Atomic runs fn as one unit of work: either
// every write made through the Store passed to fn is committed or none is.
// Calling Atomic on the Store handed to fn joins the running unit.
type Store interface {
	Orders() Orders
	Trades() Trades
	Accounts() Accounts
	Atomic(ctx context.Context, fn func(tx Store) error) error
}
