package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

// Retention per spec.md §4.9: ticks are append-only with a 24h TTL,
// 1-minute candles roll off after 7 days, coarser candles are kept
// indefinitely (TTL 0 disables expiry).
const (
	tickTTL        = 24 * time.Hour
	oneMinCandleTTL = 7 * 24 * time.Hour
	tickWindowSize  = 10000
	candleWindowSize = 500
)

// RedisStore caches ticks and candles for fast replay/confirmation
// reads, grounded on libs/marketdata/cache.go's JSON-per-key pattern
// with sorted sets standing in for that file's single-value GetQuote/
// SetQuote (here the hot path is a bounded history, not a point value).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-configured client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// ConnectRedis dials addr and verifies the connection with a PING.
func ConnectRedis(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

func tickKey(securityID string) string {
	return fmt.Sprintf("ticks:%s", securityID)
}

func candleKey(securityID string, interval domain.Interval) string {
	return fmt.Sprintf("candles:%s:%s", securityID, interval)
}

// AppendTick stores a tick in the per-security sorted set, scored by
// capture time, and trims to the retention window. Loss of a single
// tick write is acceptable (spec.md §7): callers log and continue.
func (s *RedisStore) AppendTick(ctx context.Context, tick *domain.Tick) error {
	data, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("marshal tick: %w", err)
	}

	key := tickKey(tick.SecurityID)
	score := float64(tick.CapturedAt.UnixNano())
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: data})
	pipe.ZRemRangeByRank(ctx, key, 0, -tickWindowSize-1)
	pipe.Expire(ctx, key, tickTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append tick: %w", err)
	}
	return nil
}

// RecentTicks returns up to n most recent ticks for securityID, oldest
// first, indexed by (securityId, timestamp desc) per spec.md §4.9.
func (s *RedisStore) RecentTicks(ctx context.Context, securityID string, n int) ([]domain.Tick, error) {
	raw, err := s.client.ZRevRange(ctx, tickKey(securityID), 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("recent ticks: %w", err)
	}
	out := make([]domain.Tick, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var t domain.Tick
		if err := json.Unmarshal([]byte(raw[i]), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// UpsertCandle stores/replaces the candle slot for its
// (SecurityID, Interval, Timestamp) key, scored by timestamp so
// RecentCandles can range over the tail of the set.
func (s *RedisStore) UpsertCandle(ctx context.Context, candle domain.Candle) error {
	data, err := json.Marshal(candle)
	if err != nil {
		return fmt.Errorf("marshal candle: %w", err)
	}

	key := candleKey(candle.SecurityID, candle.Interval)
	member := fmt.Sprintf("%d", candle.Timestamp.UnixNano())

	pipe := s.client.TxPipeline()
	// The sorted-set member is the timestamp itself and the JSON lives in
	// a side hash under the same field, so re-adding a timestamp
	// overwrites both in place.
	pipe.HSet(ctx, key+":byts", member, data)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(candle.Timestamp.UnixNano()), Member: member})
	pipe.ZRemRangeByRank(ctx, key, 0, -candleWindowSize-1)
	if candle.Interval == domain.Interval1m {
		pipe.Expire(ctx, key, oneMinCandleTTL)
		pipe.Expire(ctx, key+":byts", oneMinCandleTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert candle: %w", err)
	}
	return nil
}

// RecentCandles satisfies confirm.CandleStore and strategy.CandleStore:
// the last n closed candles for (securityID, interval), most recent
// last.
func (s *RedisStore) RecentCandles(ctx context.Context, securityID string, interval domain.Interval, n int) ([]domain.Candle, error) {
	key := candleKey(securityID, interval)
	members, err := s.client.ZRevRange(ctx, key, 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("recent candles: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, key+":byts", members...).Result()
	if err != nil {
		return nil, fmt.Errorf("recent candles values: %w", err)
	}

	out := make([]domain.Candle, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		str, ok := values[i].(string)
		if !ok {
			continue
		}
		var c domain.Candle
		if err := json.Unmarshal([]byte(str), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
