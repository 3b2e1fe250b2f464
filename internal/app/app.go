// Package app builds the pieces every ledger binary shares: the logger, the
// store, the lock backend and the services on top of them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/tradesense/challenge/internal/cache/redis"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/domain"
	"github.com/tradesense/challenge/internal/keylock"
	"github.com/tradesense/challenge/internal/repository"
	"github.com/tradesense/challenge/internal/service"
)

// NewLogger returns JSON at info level in production and text at debug
// level elsewhere, and installs it as the slog default.
func NewLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler
	if cfg.IsProd() {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// App holds the wired ledger.  Close releases the database and Redis.
type App struct {
	Cfg        *config.Config
	Logger     *slog.Logger
	DB         *sqlx.DB
	Redis      *redis.Client // nil when REDIS_ADDR is unset
	Store      *repository.Store
	Locker     domain.Locker
	Prices     *service.PriceService
	Auth       *service.AuthService
	Challenges *service.ChallengeService
	Positions  *service.PositionService
}

// New connects the database (migrating when DB_AUTO_MIGRATE is set),
// connects Redis when configured and builds the services.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	// ── 1. Database ──────────────────────────────────────────────────────────
	db, err := repository.Open(ctx, repository.DBOptions{
		Driver:          cfg.DB.Driver,
		DSN:             cfg.DB.DSN,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("database connected", "driver", cfg.DB.Driver)

	if cfg.DB.AutoMigrate {
		if err = repository.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	a := &App{Cfg: cfg, Logger: logger, DB: db, Store: repository.NewStore(db)}

	// ── 2. Redis (optional) ──────────────────────────────────────────────────
	if cfg.Redis.Enabled() {
		a.Redis, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// ── 3. Per-challenge lock ────────────────────────────────────────────────
	switch cfg.Lock.Backend {
	case "redis":
		if a.Redis == nil {
			a.Close()
			return nil, fmt.Errorf("app.New: LOCK_BACKEND=redis requires REDIS_ADDR")
		}
		a.Locker = redis.NewLockManager(a.Redis, cfg.Lock.TTL, cfg.Lock.Retry)
	default:
		a.Locker = keylock.New()
	}
	logger.Info("challenge lock ready", "backend", cfg.Lock.Backend)

	// ── 4. Services ──────────────────────────────────────────────────────────
	a.Prices = service.NewPriceService(cfg, logger)
	if a.Redis != nil {
		a.Prices.SetSharedCache(redis.NewPriceCache(a.Redis, cfg.Price.CacheTTL))
	}
	a.Auth = service.NewAuthService(cfg)
	a.Challenges = service.NewChallengeService(a.Store, a.Locker, cfg, logger)
	a.Positions = service.NewPositionService(a.Store, a.Locker, a.Prices, cfg, logger)
	return a, nil
}

// SetNotifier routes post-commit challenge updates from both services to n.
func (a *App) SetNotifier(n service.Notifier) {
	a.Challenges.SetNotifier(n)
	a.Positions.SetNotifier(n)
}

// Close releases every connection.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
