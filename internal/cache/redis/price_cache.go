package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftlabs/marginbot/internal/domain"
)

// closesMaxLen bounds the per-symbol recent-closes list.
const closesMaxLen = 500

// PriceCache implements domain.PriceCache using Redis. The last price is a
// hash at "price:{symbol}" with fields "price" and "ts" (Unix nanoseconds);
// recent closes are a bounded list at "closes:{symbol}", newest first.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(symbol string) string {
	return "price:" + symbol
}

func closesKey(symbol string) string {
	return "closes:" + symbol
}

// SetPrice stores the latest price for a symbol, stamped at write time.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price float64) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(time.Now().UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for a symbol.
// It returns domain.ErrNotFound when no price has been cached yet.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// PushClose prepends a candle close to the symbol's recent-closes list and
// trims the list to its bound.
func (pc *PriceCache) PushClose(ctx context.Context, symbol string, close float64) error {
	key := closesKey(symbol)
	pipe := pc.rdb.TxPipeline()
	pipe.LPush(ctx, key, strconv.FormatFloat(close, 'f', -1, 64))
	pipe.LTrim(ctx, key, 0, closesMaxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: push close %s: %w", symbol, err)
	}
	return nil
}

// RecentCloses returns up to n closes for a symbol, newest first. Fewer than
// n entries is not an error; callers decide whether the window is deep enough.
func (pc *PriceCache) RecentCloses(ctx context.Context, symbol string, n int) ([]float64, error) {
	vals, err := pc.rdb.LRange(ctx, closesKey(symbol), 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent closes %s: %w", symbol, err)
	}
	closes := make([]float64, 0, len(vals))
	for _, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: parse close %s: %w", symbol, err)
		}
		closes = append(closes, f)
	}
	return closes, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
