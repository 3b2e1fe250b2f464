// Package main is the entry point for the challenge ledger back-office.  It
// serves admin-only endpoints on BACKOFFICE_PORT behind an IP allowlist and
// admin-role JWTs.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradesense/challenge/internal/app"
	"github.com/tradesense/challenge/internal/backoffice"
	"github.com/tradesense/challenge/internal/cache/redis"
	"github.com/tradesense/challenge/internal/config"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.MustLoad()
	logger := app.NewLogger(cfg)
	logger.Info("starting challenge ledger backoffice",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// The hub lives in the API process.  With Redis, admin changes are pushed
	// there over the update bus; without it traders see them on their next read.
	var bus *redis.UpdateBus
	if a.Redis != nil {
		bus = redis.NewUpdateBus(a.Redis, logger)
		a.SetNotifier(bus)
	}

	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:      a.Auth,
		ChallengeSvc: a.Challenges,
		PriceSvc:     a.Prices,
		Cfg:          cfg,
		Logger:       logger,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	if bus != nil {
		g.Go(func() error {
			bus.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("backoffice listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("backoffice stopped with error", "err", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("backoffice stopped")
}
