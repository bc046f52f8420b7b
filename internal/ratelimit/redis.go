package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is a sliding-window limiter: each hit is a ZSET member scored by
// its timestamp, and hits older than the window are trimmed on every call.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (l *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := time.Now()
	k := l.prefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()[:8]
	floor := now.Add(-window).UnixNano()

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "0", strconv.FormatInt(floor, 10))
		p.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixNano()), Member: member})
		card = p.ZCard(ctx, k)
		oldest = p.ZRangeWithScores(ctx, k, 0, 0)
		p.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count := int(card.Val())
	reset := now.Add(window)
	if zs := oldest.Val(); len(zs) > 0 {
		reset = time.Unix(0, int64(zs[0].Score)).Add(window)
	}

	res := Result{Limit: limit, Reset: reset}
	if count > limit {
		// rejected hits do not consume the window
		if err := l.client.ZRem(ctx, k, member).Err(); err != nil {
			return Result{}, fmt.Errorf("rate limit rollback: %w", err)
		}
		res.RetryAfter = time.Until(reset)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
		return res, nil
	}
	res.Allowed = true
	res.Remaining = limit - count
	return res, nil
}
