package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", invalid("side", "must be 'buy' or 'sell'")
}

// Opposite returns the side an order of this side matches against
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status is the lifecycle state of an order
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusPartial   Status = "PARTIAL"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) valid() bool {
	switch s {
	case StatusOpen, StatusPartial, StatusFilled, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Order represents a limit order placed by an account
type Order struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Side      Side
	Price     Price
	Amount    Quantity
	Filled    Quantity
	Status    Status
	CreatedAt time.Time // Used for time priority
	UpdatedAt time.Time
}

// NewOrder creates an OPEN order with nothing filled
func NewOrder(ownerID uuid.UUID, side Side, price, amount decimal.Decimal, now time.Time) (*Order, error) {
	if side != SideBuy && side != SideSell {
		return nil, invalid("side", "must be 'buy' or 'sell'")
	}
	p, err := NewPrice(price)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, invalid("amount", "must be positive")
	}
	a, err := NewQuantity(amount)
	if err != nil {
		return nil, err
	}
	return &Order{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Side:      side,
		Price:     p,
		Amount:    a,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// RestoreOrder rebuilds an order read back from storage or the intake queue
func RestoreOrder(id, ownerID uuid.UUID, side Side, status Status, price, amount, filled decimal.Decimal, createdAt, updatedAt time.Time) (*Order, error) {
	if side != SideBuy && side != SideSell {
		return nil, invalid("side", fmt.Sprintf("unknown side %q", side))
	}
	if !status.valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	p, err := NewPrice(price)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, invalid("amount", "must be positive")
	}
	a, err := NewQuantity(amount)
	if err != nil {
		return nil, err
	}
	f, err := NewQuantity(filled)
	if err != nil {
		return nil, err
	}
	if filled.GreaterThan(amount) {
		return nil, invalid("filled", "exceeds amount")
	}
	return &Order{
		ID:        id,
		OwnerID:   ownerID,
		Side:      side,
		Price:     p,
		Amount:    a,
		Filled:    f,
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

// Remaining is the unfilled part of the order
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Decimal().Sub(o.Filled.Decimal())
}

// IsResting reports whether the order belongs in the book
func (o *Order) IsResting() bool {
	return o.Status == StatusOpen || o.Status == StatusPartial
}

// Fill records qty as executed
func (o *Order) Fill(qty decimal.Decimal, now time.Time) error {
	if o.Status.Terminal() {
		return ErrOrderNotOpen
	}
	if !qty.IsPositive() {
		return invalid("fill quantity", "must be positive")
	}
	if qty.GreaterThan(o.Remaining()) {
		return fmt.Errorf("%w: order %s has %s left, fill of %s", ErrFillExceedsRemaining, o.ID, o.Remaining(), qty)
	}
	o.Filled = o.Filled.Add(Quantity{v: qty})
	if o.Filled.Decimal().Equal(o.Amount.Decimal()) {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
	o.UpdatedAt = now
	return nil
}

// Cancel moves a resting order to CANCELLED
func (o *Order) Cancel(now time.Time) error {
	if o.Status.Terminal() {
		return ErrOrderNotCancellable
	}
	o.Status = StatusCancelled
	o.UpdatedAt = now
	return nil
}

// Reservation returns the asset and amount held for the unfilled part of the
// order: quote price*remaining plus its fee allowance for a buy, base
// remaining for a sell.
func (o *Order) Reservation() (Asset, decimal.Decimal) {
	if o.Side == SideBuy {
		notional := o.Price.Decimal().Mul(o.Remaining())
		return AssetQuote, notional.Add(FeeAllowance(notional))
	}
	return AssetBase, o.Remaining()
}
