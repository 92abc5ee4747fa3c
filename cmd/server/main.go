package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/xtrntr/spotex/internal/api"
	"github.com/xtrntr/spotex/internal/app"
	"github.com/xtrntr/spotex/internal/config"
	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/logger"
)

const bookLevels = 50

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run sets up the store, queue, matching daemon and HTTP server and blocks
// until a signal arrives or one of them fails.
func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, closer, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(log)

	if cfg.Auth.Secret == config.DevSecret {
		log.Warn("using the development token secret, set EXCHANGE_AUTH_SECRET in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := api.NewHub(func(ctx context.Context) (exchange.OrderBook, error) {
		return a.Exchange.GetOrderBook(ctx, bookLevels)
	}, cfg.Server.CORSOrigins, log)
	a.Exchange.SetListener(hub)
	a.Daemon.SetListener(hub)

	routerCfg := api.RouterConfig{CORSOrigins: cfg.Server.CORSOrigins}
	if cfg.Metrics.Enabled {
		routerCfg.Metrics = a.Metrics.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	handler := api.NewHandler(a.Exchange, a.Auth, hub, log)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(handler, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Daemon.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting server",
			"addr", cfg.Server.Addr,
			"database", cfg.Database.Driver,
			"queue", cfg.Queue.Driver,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
