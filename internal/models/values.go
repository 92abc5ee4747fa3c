package models

import (
	"github.com/shopspring/decimal"
)

// MaxScale is the number of fractional digits accepted for prices and quantities
const MaxScale = 8

// Fee rates applied to the notional of every trade
var (
	MakerFeeRate = decimal.RequireFromString("0.005")
	TakerFeeRate = decimal.RequireFromString("0.003")
)

// maxFeeRate is what a buy order reserves on top of its notional, since it
// does not know yet whether it will fill as maker or taker
var maxFeeRate = decimal.Max(MakerFeeRate, TakerFeeRate)

// feeScale is the quote currency minor unit
const feeScale = 2

func checkScale(field string, v decimal.Decimal) error {
	if !v.Equal(v.Truncate(MaxScale)) {
		return invalid(field, "too many decimal places")
	}
	return nil
}

// Price is a strictly positive quote amount per unit of base
type Price struct {
	v decimal.Decimal
}

func NewPrice(v decimal.Decimal) (Price, error) {
	if !v.IsPositive() {
		return Price{}, invalid("price", "must be positive")
	}
	if err := checkScale("price", v); err != nil {
		return Price{}, err
	}
	return Price{v: v}, nil
}

func (p Price) Decimal() decimal.Decimal { return p.v }
func (p Price) String() string           { return p.v.String() }

// Quantity is a non-negative base amount
type Quantity struct {
	v decimal.Decimal
}

func NewQuantity(v decimal.Decimal) (Quantity, error) {
	if v.IsNegative() {
		return Quantity{}, invalid("quantity", "must not be negative")
	}
	if err := checkScale("quantity", v); err != nil {
		return Quantity{}, err
	}
	return Quantity{v: v}, nil
}

func (q Quantity) Decimal() decimal.Decimal { return q.v }
func (q Quantity) String() string           { return q.v.String() }
func (q Quantity) IsZero() bool             { return q.v.IsZero() }

func (q Quantity) Add(o Quantity) Quantity {
	return Quantity{v: q.v.Add(o.v)}
}

// Sub fails unless the result stays strictly positive.
func (q Quantity) Sub(o Quantity) (Quantity, error) {
	r := q.v.Sub(o.v)
	if !r.IsPositive() {
		return Quantity{}, ErrNonPositiveRemainder
	}
	return Quantity{v: r}, nil
}

// Fee is a non-negative quote amount charged on a trade
type Fee struct {
	v decimal.Decimal
}

func NewFee(v decimal.Decimal) (Fee, error) {
	if v.IsNegative() {
		return Fee{}, invalid("fee", "must not be negative")
	}
	return Fee{v: v}, nil
}

// FeeFromAmount applies rate to notional and rounds down to the quote minor
// unit.
func FeeFromAmount(notional, rate decimal.Decimal) (Fee, error) {
	if rate.IsNegative() {
		return Fee{}, invalid("fee rate", "must not be negative")
	}
	return NewFee(notional.Mul(rate).RoundDown(feeScale))
}

// FeeAllowance is the quote a buy of the given notional holds back for its
// fee: the highest rate, rounded up to the minor unit. Because charged fees
// round down, the allowance released by a fill always covers the fee of that
// fill.
func FeeAllowance(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(maxFeeRate).RoundUp(feeScale)
}

func MakerFee(notional decimal.Decimal) (Fee, error) {
	return FeeFromAmount(notional, MakerFeeRate)
}

func TakerFee(notional decimal.Decimal) (Fee, error) {
	return FeeFromAmount(notional, TakerFeeRate)
}

func (f Fee) Decimal() decimal.Decimal { return f.v }
func (f Fee) String() string           { return f.v.String() }

// Balance is a non-negative holding of one asset
type Balance struct {
	v decimal.Decimal
}

func NewBalance(v decimal.Decimal) (Balance, error) {
	if v.IsNegative() {
		return Balance{}, invalid("balance", "must not be negative")
	}
	return Balance{v: v}, nil
}

func (b Balance) Decimal() decimal.Decimal { return b.v }
func (b Balance) String() string           { return b.v.String() }

func (b Balance) Credit(amount decimal.Decimal) (Balance, error) {
	if amount.IsNegative() {
		return b, invalid("credit amount", "must not be negative")
	}
	return Balance{v: b.v.Add(amount)}, nil
}

func (b Balance) Debit(amount decimal.Decimal) (Balance, error) {
	if amount.IsNegative() {
		return b, invalid("debit amount", "must not be negative")
	}
	if amount.GreaterThan(b.v) {
		return b, ErrInsufficientFunds
	}
	return Balance{v: b.v.Sub(amount)}, nil
}
