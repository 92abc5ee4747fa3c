// Package queue carries newly placed orders from placement to the matching
// daemon.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
)

// Queue is a durable FIFO of orders awaiting matching. Dequeue blocks until
// an order is delivered or ctx is done; a nil order with a nil error means
// nothing was delivered.
type Queue interface {
	Enqueue(ctx context.Context, order *models.Order) error
	Dequeue(ctx context.Context) (*models.Order, error)
}

// payload is the wire form of an order
type payload struct {
	ID        uuid.UUID       `json:"id"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Side      models.Side     `json:"side"`
	Status    models.Status   `json:"status"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Filled    decimal.Decimal `json:"filled"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Encode serializes an order for transport
func Encode(order *models.Order) ([]byte, error) {
	data, err := json.Marshal(payload{
		ID:        order.ID,
		OwnerID:   order.OwnerID,
		Side:      order.Side,
		Status:    order.Status,
		Price:     order.Price.Decimal(),
		Amount:    order.Amount.Decimal(),
		Filled:    order.Filled.Decimal(),
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}
	return data, nil
}

// Decode rebuilds an order from its transport form
func Decode(data []byte) (*models.Order, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return models.RestoreOrder(p.ID, p.OwnerID, p.Side, p.Status, p.Price, p.Amount, p.Filled, p.CreatedAt, p.UpdatedAt)
}
