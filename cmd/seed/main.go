package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/spotex/internal/app"
	"github.com/xtrntr/spotex/internal/config"
	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/queue"
)

const seedPassword = "password123"

type seedOrder struct {
	trader string
	side   models.Side
	price  string
	amount string
}

// A few crossing orders to leave some trade history, then a resting ladder
// on both sides of the book.
var seedOrders = []seedOrder{
	{"trader2", models.SideSell, "30000", "0.1"},
	{"trader1", models.SideBuy, "30000", "0.1"},
	{"trader2", models.SideSell, "31000", "0.2"},
	{"trader1", models.SideBuy, "31000", "0.2"},
	{"trader1", models.SideBuy, "32000", "0.15"},
	{"trader2", models.SideSell, "32000", "0.15"},

	{"trader1", models.SideBuy, "31500", "0.5"},
	{"trader1", models.SideBuy, "31400", "0.8"},
	{"trader1", models.SideBuy, "31250", "1.2"},
	{"trader2", models.SideSell, "32100", "0.4"},
	{"trader2", models.SideSell, "32250", "0.9"},
	{"trader2", models.SideSell, "32500", "1.5"},
}

// Seed the store with demo traders and orders
func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, closer, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	trades, err := a.Store.Trades().FindRecent(ctx, 1)
	if err != nil {
		return fmt.Errorf("failed to check trades: %w", err)
	}
	if len(trades) > 0 {
		fmt.Println("Store already has trades. No need to seed.")
		return nil
	}

	traders := make(map[string]*models.Account)
	for _, name := range []string{"trader1", "trader2"} {
		acct, err := a.Auth.Register(ctx, name, seedPassword)
		if errors.Is(err, models.ErrAccountExists) {
			acct, err = a.Store.Accounts().FindByName(ctx, name)
		}
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
		traders[name] = acct
	}

	// Orders are matched in this process only when the queue lives here too.
	// Otherwise the running server's daemon picks them up.
	local, _ := a.Queue.(*queue.Memory)

	for _, so := range seedOrders {
		res, err := a.Exchange.PlaceOrder(ctx, exchange.PlaceOrderRequest{
			OwnerID: traders[so.trader].ID,
			Side:    so.side,
			Price:   decimal.RequireFromString(so.price),
			Amount:  decimal.RequireFromString(so.amount),
		})
		if err != nil {
			return fmt.Errorf("failed to place %s %s@%s: %w", so.side, so.amount, so.price, err)
		}
		log.Info("seeded order", slog.String("trader", so.trader), slog.String("order_id", res.OrderID.String()))

		if local != nil {
			if err := drain(ctx, a, local); err != nil {
				return err
			}
		}
	}

	book, err := a.Exchange.GetOrderBook(ctx, 0)
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d orders: %d bid levels, %d ask levels. Traders log in with %q.\n",
		len(seedOrders), len(book.Bids), len(book.Asks), seedPassword)
	if local != nil && cfg.Database.Driver == "memory" {
		fmt.Println("The in-memory store is discarded on exit; use the postgres driver to keep the data.")
	}
	return nil
}

func drain(ctx context.Context, a *app.App, q *queue.Memory) error {
	for q.Len() > 0 {
		order, err := q.Dequeue(ctx)
		if err != nil {
			return err
		}
		if _, err := a.Daemon.Process(ctx, order); err != nil {
			return fmt.Errorf("failed to match order %s: %w", order.ID, err)
		}
	}
	return nil
}
