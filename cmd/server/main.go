// Package main is the entry point for the challenge ledger's trader API.  It
// wires the services and runs the HTTP server alongside the WebSocket hub and
// the cron scheduler.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradesense/challenge/internal/api"
	"github.com/tradesense/challenge/internal/app"
	"github.com/tradesense/challenge/internal/cache/redis"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/scheduler"
	"github.com/tradesense/challenge/internal/ws"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	cfg := config.MustLoad()
	logger := app.NewLogger(cfg)
	logger.Info("starting challenge ledger api", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Store, lock, services ──────────────────────────────────────────────
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// ── 4. WebSocket hub ──────────────────────────────────────────────────────
	hub := ws.NewHub(api.HubAuthenticator(a.Auth), api.SplitOrigins(cfg.Server.CORSOrigins), logger)
	// With Redis, every process publishes updates and each API replica relays
	// them to its own clients.
	var bus *redis.UpdateBus
	if a.Redis != nil {
		bus = redis.NewUpdateBus(a.Redis, logger)
		if err := bus.Relay(ctx, hub); err != nil {
			logger.Error("update relay failed", "err", err)
			os.Exit(1)
		}
		a.SetNotifier(bus)
	} else {
		a.SetNotifier(hub)
	}

	// ── 5. Scheduler ──────────────────────────────────────────────────────────
	sched, err := scheduler.NewScheduler(a.Challenges, hub, cfg, logger)
	if err != nil {
		logger.Error("scheduler setup failed", "err", err)
		os.Exit(1)
	}

	// ── 6. HTTP server ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:      a.Auth,
		ChallengeSvc: a.Challenges,
		PositionSvc:  a.Positions,
		Prices:       a.Prices,
		Charts:       a.Prices,
		Hub:          hub,
		Cfg:          cfg,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 7. Run until a signal or a fatal error ────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if bus != nil {
		g.Go(func() error {
			bus.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		sched.Start(gctx)
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "err", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("server stopped cleanly")
}
