package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset is one of the two legs of the traded pair
type Asset string

const (
	AssetBase  Asset = "BTC"
	AssetQuote Asset = "USD"
)

// Account holds a user's free balances. Funds reserved by resting orders are
// not part of either balance.
type Account struct {
	ID           uuid.UUID
	Name         string
	PasswordHash string
	Base         Balance
	Quote        Balance
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewAccount creates an account with the given starting balances
func NewAccount(name, passwordHash string, base, quote decimal.Decimal, now time.Time) (*Account, error) {
	if name == "" {
		return nil, invalid("name", "must not be empty")
	}
	b, err := NewBalance(base)
	if err != nil {
		return nil, err
	}
	q, err := NewBalance(quote)
	if err != nil {
		return nil, err
	}
	return &Account{
		ID:           uuid.New(),
		Name:         name,
		PasswordHash: passwordHash,
		Base:         b,
		Quote:        q,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Balance returns the free balance of asset
func (a *Account) Balance(asset Asset) decimal.Decimal {
	if asset == AssetBase {
		return a.Base.Decimal()
	}
	return a.Quote.Decimal()
}

func (a *Account) Credit(asset Asset, amount decimal.Decimal, now time.Time) error {
	return a.apply(asset, now, func(b Balance) (Balance, error) { return b.Credit(amount) })
}

func (a *Account) Debit(asset Asset, amount decimal.Decimal, now time.Time) error {
	err := a.apply(asset, now, func(b Balance) (Balance, error) { return b.Debit(amount) })
	if err == ErrInsufficientFunds {
		return fmt.Errorf("%w: %s needs %s %s, has %s", err, a.Name, amount, asset, a.Balance(asset))
	}
	return err
}

func (a *Account) apply(asset Asset, now time.Time, op func(Balance) (Balance, error)) error {
	switch asset {
	case AssetBase:
		b, err := op(a.Base)
		if err != nil {
			return err
		}
		a.Base = b
	case AssetQuote:
		q, err := op(a.Quote)
		if err != nil {
			return err
		}
		a.Quote = q
	default:
		return invalid("asset", fmt.Sprintf("unknown asset %q", asset))
	}
	a.UpdatedAt = now
	return nil
}
