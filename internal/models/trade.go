package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade represents an executed match between a buy and a sell order
type Trade struct {
	ID          uuid.UUID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Price       Price    // Resting order's price
	Amount      Quantity // Quantity in base
	MakerFee    Fee
	TakerFee    Fee
	TakerSide   Side
	ExecutedAt  time.Time
}

// NewTrade validates and builds a trade record
func NewTrade(id, buyOrderID, sellOrderID uuid.UUID, price, amount decimal.Decimal, makerFee, takerFee Fee, takerSide Side, executedAt time.Time) (*Trade, error) {
	p, err := NewPrice(price)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, invalid("trade amount", "must be positive")
	}
	if takerSide != SideBuy && takerSide != SideSell {
		return nil, invalid("taker side", "must be 'buy' or 'sell'")
	}
	return &Trade{
		ID:          id,
		BuyOrderID:  buyOrderID,
		SellOrderID: sellOrderID,
		Price:       p,
		Amount:      Quantity{v: amount},
		MakerFee:    makerFee,
		TakerFee:    takerFee,
		TakerSide:   takerSide,
		ExecutedAt:  executedAt,
	}, nil
}

// Notional is the gross quote value of the trade
func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Decimal().Mul(t.Amount.Decimal())
}

// FeeFor returns the fee paid by the given side of the trade
func (t *Trade) FeeFor(side Side) Fee {
	if side == t.TakerSide {
		return t.TakerFee
	}
	return t.MakerFee
}
