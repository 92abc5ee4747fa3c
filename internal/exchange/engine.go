// Package exchange implements matching, settlement and the order workflows
// of the BTC/USD book.
package exchange

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
)

// Fill is one match between the taker and a resting maker. Released is the
// quote reservation of the buy order freed by this fill.
type Fill struct {
	Trade    *models.Trade
	Maker    *models.Order
	Released decimal.Decimal
}

// Engine computes fills for an incoming order against the resting book
type Engine struct {
	now   func() time.Time
	newID func() uuid.UUID
}

func NewEngine() *Engine {
	return &Engine{now: time.Now, newID: uuid.New}
}

// crosses reports whether the taker accepts the maker's price
func crosses(taker, maker *models.Order) bool {
	tp, mp := taker.Price.Decimal(), maker.Price.Decimal()
	if taker.Side == models.SideBuy {
		return mp.LessThanOrEqual(tp)
	}
	return mp.GreaterThanOrEqual(tp)
}

// Match walks book, the opposite side sorted by price then time, and fills
// taker against it at the makers' prices. Both taker and the matched makers
// are mutated. Matching stops at the first maker whose price does not cross.
func (e *Engine) Match(taker *models.Order, book []*models.Order) ([]Fill, error) {
	if !taker.IsResting() {
		return nil, models.ErrOrderNotOpen
	}

	var fills []Fill
	for _, maker := range book {
		if !taker.Remaining().IsPositive() {
			break
		}
		if maker.Side == taker.Side {
			return nil, fmt.Errorf("maker %s is on the taker's side", maker.ID)
		}
		if !crosses(taker, maker) {
			break
		}
		qty := decimal.Min(taker.Remaining(), maker.Remaining())
		if !qty.IsPositive() {
			continue
		}

		price := maker.Price.Decimal()
		notional := price.Mul(qty)
		makerFee, err := models.MakerFee(notional)
		if err != nil {
			return nil, err
		}
		takerFee, err := models.TakerFee(notional)
		if err != nil {
			return nil, err
		}

		buy, sell := taker, maker
		if taker.Side == models.SideSell {
			buy, sell = maker, taker
		}
		now := e.now()
		trade, err := models.NewTrade(e.newID(), buy.ID, sell.ID, price, qty, makerFee, takerFee, taker.Side, now)
		if err != nil {
			return nil, err
		}

		_, reserved := buy.Reservation()
		if err := maker.Fill(qty, now); err != nil {
			return nil, err
		}
		if err := taker.Fill(qty, now); err != nil {
			return nil, err
		}
		_, left := buy.Reservation()
		fills = append(fills, Fill{Trade: trade, Maker: maker, Released: reserved.Sub(left)})
	}
	return fills, nil
}

// Settle moves the balances of one fill. The seller's base and the buyer's
// quote were reserved at placement: the seller only receives quote, the
// buyer receives base and gets back what the released reservation did not
// spend. Both fees go to feeAccount. buyer, seller and feeAccount may be the
// same account.
func (e *Engine) Settle(fill Fill, buyer, seller, feeAccount *models.Account) error {
	trade := fill.Trade
	now := trade.ExecutedAt
	qty := trade.Amount.Decimal()
	notional := trade.Notional()
	buyerFee := trade.FeeFor(models.SideBuy).Decimal()
	sellerFee := trade.FeeFor(models.SideSell).Decimal()

	change := fill.Released.Sub(notional.Add(buyerFee))
	if change.IsNegative() {
		return fmt.Errorf("trade %s costs %s but releases only %s", trade.ID, notional.Add(buyerFee), fill.Released)
	}

	if err := seller.Credit(models.AssetQuote, notional.Sub(sellerFee), now); err != nil {
		return err
	}
	if err := buyer.Credit(models.AssetBase, qty, now); err != nil {
		return err
	}
	if change.IsPositive() {
		if err := buyer.Credit(models.AssetQuote, change, now); err != nil {
			return err
		}
	}

	return feeAccount.Credit(models.AssetQuote, trade.MakerFee.Decimal().Add(trade.TakerFee.Decimal()), now)
}
