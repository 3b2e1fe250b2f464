package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// PriceCache shares quotes between ledger processes.  Each quote is a hash at
// "price:{market}:{symbol}" with fields "price" and "ts" (Unix nanoseconds),
// expiring after ttl.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.rdb, ttl: ttl}
}

func priceKey(market, symbol string) string {
	return "price:" + market + ":" + symbol
}

// SetPrice stores a quote.
func (pc *PriceCache) SetPrice(ctx context.Context, market, symbol string, price decimal.Decimal, ts time.Time) error {
	key := priceKey(market, symbol)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.PExpire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", key, err)
	}
	return nil
}

// GetPrice returns the cached quote.  ok is false on a miss.
func (pc *PriceCache) GetPrice(ctx context.Context, market, symbol string) (price decimal.Decimal, ts time.Time, ok bool, err error) {
	key := priceKey(market, symbol)
	vals, err := pc.rdb.HGetAll(ctx, key).Result()
	if err == redis.Nil {
		return decimal.Zero, time.Time{}, false, nil
	}
	if err != nil {
		return decimal.Zero, time.Time{}, false, fmt.Errorf("redis: get price %s: %w", key, err)
	}

	priceStr, hasPrice := vals["price"]
	tsStr, hasTS := vals["ts"]
	if !hasPrice || !hasTS {
		return decimal.Zero, time.Time{}, false, nil
	}
	price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, false, fmt.Errorf("redis: parse price %s: %w", key, err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, false, fmt.Errorf("redis: parse ts %s: %w", key, err)
	}
	return price, time.Unix(0, tsNano), true, nil
}
