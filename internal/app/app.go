// Package app builds the exchange components from configuration. It is shared
// by the server and the seed command.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/xtrntr/spotex/internal/auth"
	"github.com/xtrntr/spotex/internal/config"
	"github.com/xtrntr/spotex/internal/db"
	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/metrics"
	"github.com/xtrntr/spotex/internal/queue"
	"github.com/xtrntr/spotex/internal/store"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    store.Store
	Queue    queue.Queue
	Metrics  *metrics.Metrics
	Exchange *exchange.Service
	Daemon   *exchange.Daemon
	Auth     *auth.AuthService

	closers []func() error
}

// New connects the store and queue selected by cfg and wires the services on
// top of them. The fee account is created if it does not exist yet.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(reg)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}

	exCfg := exchange.Config{
		FeeAccount:  cfg.Exchange.FeeAccount,
		StatsWindow: cfg.Exchange.StatsWindow,
		RetryDelay:  cfg.Exchange.RetryDelay,
	}
	a.Exchange = exchange.NewService(a.Store, a.Queue, exCfg, a.Metrics, logger)
	a.Daemon = exchange.NewDaemon(a.Store, a.Queue, exchange.NewEngine(), exCfg, a.Metrics, logger)

	startBase, startQuote, err := cfg.Auth.StartingBalances()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Auth = auth.NewAuthService(a.Store, auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL), startBase, startQuote)

	if _, err := a.Exchange.EnsureFeeAccount(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create fee account: %w", err)
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Database.Driver {
	case "memory":
		a.Logger.Warn("using in-memory store, state is lost on exit")
		a.Store = store.NewMemory()
	case "postgres":
		database, err := db.NewDB(ctx, a.Config.Database.URL, a.Config.Database.MaxConns)
		if err != nil {
			return err
		}
		a.Store = database
		a.closers = append(a.closers, func() error {
			database.Close()
			return nil
		})
	default:
		return fmt.Errorf("unknown database driver %q", a.Config.Database.Driver)
	}
	return nil
}

func (a *App) openQueue(ctx context.Context) error {
	switch a.Config.Queue.Driver {
	case "memory":
		a.Queue = queue.NewMemory()
	case "redis":
		rc := a.Config.Queue.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		q := queue.NewRedis(client, rc.Key)
		a.Queue = q
		a.closers = append(a.closers, q.Close)
	case "kafka":
		kc := a.Config.Queue.Kafka
		q := queue.NewKafka(queue.KafkaConfig{
			Brokers: kc.Brokers,
			Topic:   kc.Topic,
			GroupID: kc.GroupID,
		})
		a.Queue = q
		a.closers = append(a.closers, q.Close)
	default:
		return fmt.Errorf("unknown queue driver %q", a.Config.Queue.Driver)
	}
	return nil
}

// Close releases the queue and store connections, in reverse order of opening
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
