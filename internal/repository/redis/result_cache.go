package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/go-redis/redis/v8"
)

const (
	defaultHistoryLen = 100
	defaultTTL        = 7 * 24 * time.Hour
)

// ResultCache keeps the newest results of every pair in a capped list, newest first,
// plus per-day outcome counters.
type ResultCache struct {
	rdb        *redis.Client
	historyLen int
	ttl        time.Duration
}

func NewResultCache(rdb *redis.Client, cfg Config) *ResultCache {
	c := &ResultCache{rdb: rdb, historyLen: cfg.HistoryLen, ttl: cfg.TTL}
	if c.historyLen <= 0 {
		c.historyLen = defaultHistoryLen
	}
	if c.ttl <= 0 {
		c.ttl = defaultTTL
	}
	return c
}

func historyKey(p target.Pair) string {
	return fmt.Sprintf("sitewatch:results:%d:%s", p.TargetID, p.Kind)
}

func countersKey(p target.Pair, day time.Time) string {
	return fmt.Sprintf("sitewatch:outcomes:%d:%s:%s", p.TargetID, p.Kind, day.UTC().Format("2006-01-02"))
}

func (c *ResultCache) Push(ctx context.Context, r *result.CheckResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	hk := historyKey(r.Pair())
	ck := countersKey(r.Pair(), r.CheckedAt)

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, hk, data)
		pipe.LTrim(ctx, hk, 0, int64(c.historyLen-1))
		pipe.Expire(ctx, hk, c.ttl)
		pipe.HIncrBy(ctx, ck, "total", 1)
		pipe.HIncrBy(ctx, ck, string(r.Outcome), 1)
		pipe.Expire(ctx, ck, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache result: %w", err)
	}
	return nil
}

// Recent returns up to n cached results, newest first. A cold cache returns an empty slice.
func (c *ResultCache) Recent(ctx context.Context, p target.Pair, n int) ([]*result.CheckResult, error) {
	if n <= 0 || n > c.historyLen {
		n = c.historyLen
	}
	raw, err := c.rdb.LRange(ctx, historyKey(p), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cached results: %w", err)
	}
	out := make([]*result.CheckResult, 0, len(raw))
	for _, s := range raw {
		var r result.CheckResult
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			continue
		}
		out = append(out, &r)
	}
	return out, nil
}

// Outcomes returns the outcome counters recorded for p on day.
func (c *ResultCache) Outcomes(ctx context.Context, p target.Pair, day time.Time) (map[string]int64, error) {
	m, err := c.rdb.HGetAll(ctx, countersKey(p, day)).Result()
	if err != nil {
		return nil, fmt.Errorf("read outcome counters: %w", err)
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out, nil
}
