package exchange

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
)

// Level is the total remaining quantity resting at one price
type Level struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// MarshalJSON encodes a level as a [price, volume] pair
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{l.Price.String(), l.Volume.String()})
}

// OrderBook is the aggregated depth of both sides, best price first
type OrderBook struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// AggregateBook groups resting orders per side by price. Bids are sorted
// highest price first and asks lowest price first. Filled and cancelled
// orders are ignored.
func AggregateBook(orders []*models.Order) OrderBook {
	return OrderBook{
		Bids: aggregate(orders, models.SideBuy),
		Asks: aggregate(orders, models.SideSell),
	}
}

func aggregate(orders []*models.Order, side models.Side) []Level {
	var resting []*models.Order
	for _, o := range orders {
		if o.Side == side && o.IsResting() && o.Remaining().IsPositive() {
			resting = append(resting, o)
		}
	}
	sort.SliceStable(resting, func(i, j int) bool {
		pi, pj := resting[i].Price.Decimal(), resting[j].Price.Decimal()
		if side == models.SideBuy {
			return pi.GreaterThan(pj)
		}
		return pi.LessThan(pj)
	})

	levels := []Level{}
	for _, o := range resting {
		price := o.Price.Decimal()
		if n := len(levels); n > 0 && levels[n-1].Price.Equal(price) {
			levels[n-1].Volume = levels[n-1].Volume.Add(o.Remaining())
			continue
		}
		levels = append(levels, Level{Price: price, Volume: o.Remaining()})
	}
	return levels
}

// Truncate keeps at most depth levels per side; depth <= 0 keeps all.
func (b OrderBook) Truncate(depth int) OrderBook {
	if depth <= 0 {
		return b
	}
	if len(b.Bids) > depth {
		b.Bids = b.Bids[:depth]
	}
	if len(b.Asks) > depth {
		b.Asks = b.Asks[:depth]
	}
	return b
}
