// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        // e.g. "8080"
	BackofficePort       string        // e.g. "8081"
	Env                  string        // "development" | "production"
	ReadTimeout          time.Duration // default 10s
	WriteTimeout         time.Duration // default 10s
	BackofficeAllowedIPs string        // comma-separated IPs; "" = allow all
	CORSOrigins          string        // comma-separated; "" = "*"
	RateLimitRPS         int           // per-IP requests per second, default 20
}

// DBConfig holds database connection settings.
type DBConfig struct {
	Driver          string        // "postgres" | "sqlite3"
	DSN             string        // driver-specific DSN
	MaxOpenConns    int           // default 25 (forced to 1 for sqlite3)
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
	AutoMigrate     bool          // run embedded migrations at boot
}

// JWTConfig holds access-token signing settings.
type JWTConfig struct {
	AccessSecret string        // must be set
	AccessTTL    time.Duration // default 24h
	Issuer       string        // default "challenge-ledger"
}

// PriceConfig holds quote source settings.
type PriceConfig struct {
	YahooURL     string        // default "https://query1.finance.yahoo.com"
	BinanceURL   string        // default "https://api.binance.com"
	UserAgent    string        // Yahoo rejects requests without one
	FetchTimeout time.Duration // default 5s
	CacheTTL     time.Duration // default 2s
}

// RedisConfig holds optional Redis settings.  Addr == "" disables Redis.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	TLSEnabled bool
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// LockConfig selects how mutations on one challenge are serialised.
type LockConfig struct {
	Backend     string        // "memory" | "redis"
	TTL         time.Duration // redis key TTL, default 10s
	Retry       time.Duration // redis polling interval, default 25ms
	WaitTimeout time.Duration // max wait for a challenge lock, default 5s
}

// LedgerConfig holds business settings of the challenge ledger.
type LedgerConfig struct {
	Timezone        string         // IANA name used to derive "today", default "UTC"
	Location        *time.Location // resolved from Timezone
	LeaderboardSize int            // default 10
}

// SchedulerConfig holds the optional daily evaluation sweep.
type SchedulerConfig struct {
	SweepEnabled    bool   // default false: evaluation stays event-driven
	SweepSpec       string // cron spec with seconds, default "0 5 0 * * *"
	LeaderboardSpec string // WS leaderboard push, default "@every 30s"; "" disables
}

// CronParser parses every schedule in this config: six fields (seconds
// first) or a descriptor such as "@every 30s".
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	JWT       JWTConfig
	Price     PriceConfig
	Redis     RedisConfig
	Lock      LockConfig
	Ledger    LedgerConfig
	Scheduler SchedulerConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}

	switch c.DB.Driver {
	case "postgres", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite3, got %q", c.DB.Driver))
	}
	if c.IsProd() && c.DB.Driver != "postgres" {
		errs = append(errs, errors.New("DB_DRIVER must be postgres in production"))
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			errs = append(errs, errors.New("LOCK_BACKEND=redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("LOCK_BACKEND must be memory or redis, got %q", c.Lock.Backend))
	}

	if c.Ledger.Location == nil {
		errs = append(errs, fmt.Errorf("LEDGER_TIMEZONE %q could not be loaded", c.Ledger.Timezone))
	}
	if c.Ledger.LeaderboardSize <= 0 {
		errs = append(errs, fmt.Errorf("LEADERBOARD_SIZE must be positive, got %d", c.Ledger.LeaderboardSize))
	}

	if c.Price.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PRICE_FETCH_TIMEOUT must be positive, got %s", c.Price.FetchTimeout))
	}
	if c.Price.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("PRICE_CACHE_TTL must not be negative, got %s", c.Price.CacheTTL))
	}

	if c.Scheduler.SweepEnabled {
		if _, err := CronParser.Parse(c.Scheduler.SweepSpec); err != nil {
			errs = append(errs, fmt.Errorf("SWEEP_SPEC: %w", err))
		}
	}
	if c.Scheduler.LeaderboardSpec != "" {
		if _, err := CronParser.Parse(c.Scheduler.LeaderboardSpec); err != nil {
			errs = append(errs, fmt.Errorf("LEADERBOARD_SPEC: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables
// (after merging a .env file if one exists).  Panics if loading fails.
func Get() *Config {
	once.Do(func() {
		_ = godotenv.Load()
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load reads the configuration from the process environment without touching
// the singleton.
func Load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	rps, err := getInt("RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_RPS: %w", err)
	}
	cfg.Server = ServerConfig{
		Port:                 getEnv("SERVER_PORT", "8080"),
		BackofficePort:       getEnv("BACKOFFICE_PORT", "8081"),
		Env:                  getEnv("ENVIRONMENT", "development"),
		ReadTimeout:          getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:         getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
		CORSOrigins:          getEnv("CORS_ORIGINS", ""),
		RateLimitRPS:         rps,
	}

	// ── Database ──────────────────────────────────────────────────────────────
	driver := getEnv("DB_DRIVER", "")
	dsn := os.Getenv("DATABASE_DSN")
	switch {
	case dsn == "" && os.Getenv("DB_HOST") != "":
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "challenge_ledger"),
			getEnv("DB_SSLMODE", "disable"),
		)
		if driver == "" {
			driver = "postgres"
		}
	case dsn == "":
		// Local fallback: a SQLite file next to the binary.
		if driver == "" {
			driver = "sqlite3"
		}
		dsn = "file:" + getEnv("SQLITE_PATH", "challenge.db") + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	case driver == "":
		driver = "postgres"
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}
	autoMigrate, err := getBool("DB_AUTO_MIGRATE", true)
	if err != nil {
		return nil, fmt.Errorf("DB_AUTO_MIGRATE: %w", err)
	}

	cfg.DB = DBConfig{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		AutoMigrate:     autoMigrate,
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
		AccessTTL:    getDuration("JWT_ACCESS_TTL", 24*time.Hour),
		Issuer:       getEnv("JWT_ISSUER", "challenge-ledger"),
	}

	// ── Price ─────────────────────────────────────────────────────────────────
	cfg.Price = PriceConfig{
		YahooURL:     getEnv("PRICE_YAHOO_URL", "https://query1.finance.yahoo.com"),
		BinanceURL:   getEnv("PRICE_BINANCE_URL", "https://api.binance.com"),
		UserAgent:    getEnv("PRICE_USER_AGENT", "Mozilla/5.0 (compatible; challenge-ledger/1.0)"),
		FetchTimeout: getDuration("PRICE_FETCH_TIMEOUT", 5*time.Second),
		CacheTTL:     getDuration("PRICE_CACHE_TTL", 2*time.Second),
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	redisPool, err := getInt("REDIS_POOL_SIZE", 10)
	if err != nil {
		return nil, fmt.Errorf("REDIS_POOL_SIZE: %w", err)
	}
	redisTLS, err := getBool("REDIS_TLS", false)
	if err != nil {
		return nil, fmt.Errorf("REDIS_TLS: %w", err)
	}
	cfg.Redis = RedisConfig{
		Addr:       getEnv("REDIS_ADDR", ""),
		Password:   getEnv("REDIS_PASSWORD", ""),
		DB:         redisDB,
		PoolSize:   redisPool,
		TLSEnabled: redisTLS,
	}

	// ── Lock ──────────────────────────────────────────────────────────────────
	cfg.Lock = LockConfig{
		Backend:     strings.ToLower(getEnv("LOCK_BACKEND", "memory")),
		TTL:         getDuration("LOCK_TTL", 10*time.Second),
		Retry:       getDuration("LOCK_RETRY", 25*time.Millisecond),
		WaitTimeout: getDuration("LOCK_WAIT_TIMEOUT", 5*time.Second),
	}

	// ── Ledger ────────────────────────────────────────────────────────────────
	board, err := getInt("LEADERBOARD_SIZE", 10)
	if err != nil {
		return nil, fmt.Errorf("LEADERBOARD_SIZE: %w", err)
	}
	tz := getEnv("LEDGER_TIMEZONE", "UTC")
	loc, locErr := time.LoadLocation(tz)
	if locErr != nil {
		loc = nil // reported by Validate
	}
	cfg.Ledger = LedgerConfig{
		Timezone:        tz,
		Location:        loc,
		LeaderboardSize: board,
	}

	// ── Scheduler ─────────────────────────────────────────────────────────────
	sweep, err := getBool("SWEEP_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("SWEEP_ENABLED: %w", err)
	}
	cfg.Scheduler = SchedulerConfig{
		SweepEnabled:    sweep,
		SweepSpec:       getEnv("SWEEP_SPEC", "0 5 0 * * *"),
		LeaderboardSpec: os.Getenv("LEADERBOARD_SPEC"),
	}
	if _, set := os.LookupEnv("LEADERBOARD_SPEC"); !set {
		cfg.Scheduler.LeaderboardSpec = "@every 30s"
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", v)
	}
	return b, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or unparsable.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
