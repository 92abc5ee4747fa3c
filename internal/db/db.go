// Package db is the PostgreSQL implementation of store.Store.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
)

// uniqueViolation is the SQLSTATE of a unique constraint failure
const uniqueViolation = "23505"

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string, maxConns int32) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

func (db *DB) Orders() store.Orders     { return orderRepo{q: db.Pool} }
func (db *DB) Trades() store.Trades     { return tradeRepo{q: db.Pool} }
func (db *DB) Accounts() store.Accounts { return accountRepo{q: db.Pool} }

// Atomic runs fn in one READ COMMITTED transaction. Rows read by id or as
// part of the open book inside fn are locked until commit.
func (db *DB) Atomic(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return models.Infra("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Infra("commit transaction", err)
	}
	committed = true
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (t txStore) Orders() store.Orders     { return orderRepo{q: t.tx, lock: true} }
func (t txStore) Trades() store.Trades     { return tradeRepo{q: t.tx} }
func (t txStore) Accounts() store.Accounts { return accountRepo{q: t.tx, lock: true} }

func (t txStore) Atomic(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse %s %q: %w", field, s, err)
	}
	return d, nil
}

type orderRepo struct {
	q    querier
	lock bool
}

const orderColumns = "id, owner_id, side, status, price::text, amount::text, filled::text, created_at, updated_at"

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		id, ownerID           uuid.UUID
		side, status          string
		price, amount, filled string
		createdAt, updatedAt  time.Time
	)
	if err := row.Scan(&id, &ownerID, &side, &status, &price, &amount, &filled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p, err := parseDecimal("price", price)
	if err != nil {
		return nil, err
	}
	a, err := parseDecimal("amount", amount)
	if err != nil {
		return nil, err
	}
	f, err := parseDecimal("filled", filled)
	if err != nil {
		return nil, err
	}
	return models.RestoreOrder(id, ownerID, models.Side(side), models.Status(status), p, a, f, createdAt, updatedAt)
}

func (r orderRepo) Save(ctx context.Context, o *models.Order) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO orders (id, owner_id, side, status, price, amount, filled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, filled = EXCLUDED.filled, updated_at = EXCLUDED.updated_at
	`, o.ID, o.OwnerID, string(o.Side), string(o.Status), o.Price.String(), o.Amount.String(), o.Filled.String(), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (r orderRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1"+forUpdate(r.lock), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

func (r orderRepo) FindByUser(ctx context.Context, ownerID uuid.UUID) ([]*models.Order, error) {
	return r.list(ctx, "SELECT "+orderColumns+" FROM orders WHERE owner_id = $1 ORDER BY created_at DESC, seq DESC", ownerID)
}

func (r orderRepo) FindOpenBuys(ctx context.Context) ([]*models.Order, error) {
	return r.list(ctx, "SELECT "+orderColumns+` FROM orders
		WHERE side = 'BUY' AND status IN ('OPEN', 'PARTIAL')
		ORDER BY price DESC, created_at ASC, seq ASC`+forUpdate(r.lock))
}

func (r orderRepo) FindOpenSells(ctx context.Context) ([]*models.Order, error) {
	return r.list(ctx, "SELECT "+orderColumns+` FROM orders
		WHERE side = 'SELL' AND status IN ('OPEN', 'PARTIAL')
		ORDER BY price ASC, created_at ASC, seq ASC`+forUpdate(r.lock))
}

func (r orderRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}

func (r orderRepo) list(ctx context.Context, sql string, args ...any) ([]*models.Order, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []*models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	return orders, nil
}

type tradeRepo struct {
	q querier
}

const tradeColumns = "id, buy_order_id, sell_order_id, price::text, amount::text, maker_fee::text, taker_fee::text, taker_side, executed_at"

func scanTrade(row pgx.Row) (*models.Trade, error) {
	var (
		id, buyID, sellID                 uuid.UUID
		price, amount, makerFee, takerFee string
		takerSide                         string
		executedAt                        time.Time
	)
	if err := row.Scan(&id, &buyID, &sellID, &price, &amount, &makerFee, &takerFee, &takerSide, &executedAt); err != nil {
		return nil, err
	}
	p, err := parseDecimal("price", price)
	if err != nil {
		return nil, err
	}
	a, err := parseDecimal("amount", amount)
	if err != nil {
		return nil, err
	}
	mf, err := parseDecimal("maker fee", makerFee)
	if err != nil {
		return nil, err
	}
	tf, err := parseDecimal("taker fee", takerFee)
	if err != nil {
		return nil, err
	}
	mfee, err := models.NewFee(mf)
	if err != nil {
		return nil, err
	}
	tfee, err := models.NewFee(tf)
	if err != nil {
		return nil, err
	}
	return models.NewTrade(id, buyID, sellID, p, a, mfee, tfee, models.Side(takerSide), executedAt)
}

func (r tradeRepo) Save(ctx context.Context, t *models.Trade) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO trades (id, buy_order_id, sell_order_id, price, amount, maker_fee, taker_fee, taker_side, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.BuyOrderID, t.SellOrderID, t.Price.String(), t.Amount.String(), t.MakerFee.String(), t.TakerFee.String(), string(t.TakerSide), t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

func (r tradeRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	t, err := scanTrade(r.q.QueryRow(ctx, "SELECT "+tradeColumns+" FROM trades WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

func (r tradeRepo) FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]*models.Trade, error) {
	return r.list(ctx, "SELECT "+tradeColumns+` FROM trades
		WHERE buy_order_id = $1 OR sell_order_id = $1
		ORDER BY executed_at DESC, seq DESC`, orderID)
}

func (r tradeRepo) FindRecent(ctx context.Context, limit int) ([]*models.Trade, error) {
	return r.list(ctx, "SELECT "+tradeColumns+" FROM trades ORDER BY executed_at DESC, seq DESC LIMIT $1", limit)
}

func (r tradeRepo) FindByDateRange(ctx context.Context, from, to time.Time) ([]*models.Trade, error) {
	return r.list(ctx, "SELECT "+tradeColumns+` FROM trades
		WHERE executed_at BETWEEN $1 AND $2
		ORDER BY executed_at ASC, seq ASC`, from, to)
}

func (r tradeRepo) list(ctx context.Context, sql string, args ...any) ([]*models.Trade, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := []*models.Trade{}
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}
	return trades, nil
}

type accountRepo struct {
	q    querier
	lock bool
}

const accountColumns = "id, name, password_hash, base_balance::text, quote_balance::text, created_at, updated_at"

func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		a           models.Account
		base, quote string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.PasswordHash, &base, &quote, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	b, err := parseDecimal("base balance", base)
	if err != nil {
		return nil, err
	}
	q, err := parseDecimal("quote balance", quote)
	if err != nil {
		return nil, err
	}
	if a.Base, err = models.NewBalance(b); err != nil {
		return nil, err
	}
	if a.Quote, err = models.NewBalance(q); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r accountRepo) Save(ctx context.Context, a *models.Account) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO accounts (id, name, password_hash, base_balance, quote_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, password_hash = EXCLUDED.password_hash,
		    base_balance = EXCLUDED.base_balance, quote_balance = EXCLUDED.quote_balance,
		    updated_at = EXCLUDED.updated_at
	`, a.ID, a.Name, a.PasswordHash, a.Base.String(), a.Quote.String(), a.CreatedAt, a.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return models.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (r accountRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.get(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1"+forUpdate(r.lock), id)
}

func (r accountRepo) FindByName(ctx context.Context, name string) (*models.Account, error) {
	return r.get(ctx, "SELECT "+accountColumns+" FROM accounts WHERE name = $1"+forUpdate(r.lock), name)
}

func (r accountRepo) get(ctx context.Context, sql string, arg any) (*models.Account, error) {
	a, err := scanAccount(r.q.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}
