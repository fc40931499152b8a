// SPDX-License-Identifier: MIT

package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warmline/warmline/internal/log"
	"github.com/warmline/warmline/internal/metrics"
)

const (
	dedupPrefix   = "sig:dedup:"
	channelPrefix = "sig:chan:"
	redisOpTTL    = 2 * time.Second
	channelTTL    = 10 * time.Minute
)

// Channel is the Redis-backed signal fan-out. Producers publish into a
// per-channel sorted set keyed by issue time; consumers poll with a cursor.
// Publishing is idempotent under retransmission: a dedup key claims each
// (kind, target, issuedAt) exactly once.
type Channel struct {
	rdb    *redis.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewChannel creates a signal channel on top of rdb.
func NewChannel(rdb *redis.Client) *Channel {
	return &Channel{
		rdb:    rdb,
		logger: log.WithComponent("signal"),
		now:    time.Now,
	}
}

// Publish fans a signal out to everyone watching channelKey. Re-publishing
// the same dedup key has the effect of one delivery.
func (c *Channel) Publish(ctx context.Context, channelKey string, sig Signal) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTTL)
	defer cancel()

	ttl := time.Duration(sig.TTL) * time.Second
	if ttl <= 0 {
		return fmt.Errorf("signal: non-positive ttl for %s", sig.Kind)
	}

	claimed, err := c.rdb.SetNX(ctx, dedupPrefix+channelKey+":"+sig.DedupKey(), 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("signal publish: %w", err)
	}
	if !claimed {
		metrics.IncSignalDuplicate()
		c.logger.Debug().
			Str("event", "signal.duplicate").
			Str(log.FieldChannelKey, channelKey).
			Str(log.FieldSignalKind, sig.Kind).
			Msg("duplicate publish suppressed")
		return nil
	}

	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("signal encode: %w", err)
	}
	key := channelPrefix + channelKey
	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(sig.IssuedAt), Member: string(data)})
	pipe.Expire(ctx, key, channelTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("signal publish: %w", err)
	}

	metrics.IncSignalPublished(sig.Kind)
	c.logger.Info().
		Str("event", "signal.published").
		Str(log.FieldChannelKey, channelKey).
		Str(log.FieldSignalKind, sig.Kind).
		Str("target", sig.Target).
		Msg("signal published")
	return nil
}

// Poll returns all non-stale signals on channelKey issued at or after
// sinceMillis, oldest first. The cursor instant is included: two signals
// issued in the same millisecond must both survive a poll landing between
// them, so the boundary is re-read and consumers drop the repeat through
// their dedup set. Expired entries found along the way are pruned.
func (c *Channel) Poll(ctx context.Context, channelKey string, sinceMillis int64) ([]Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTTL)
	defer cancel()

	key := channelPrefix + channelKey
	members, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceMillis, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("signal poll: %w", err)
	}

	now := c.now()
	out := make([]Signal, 0, len(members))
	for _, m := range members {
		var sig Signal
		if err := json.Unmarshal([]byte(m), &sig); err != nil {
			c.logger.Warn().Err(err).Str(log.FieldChannelKey, channelKey).Msg("dropping undecodable signal")
			continue
		}
		if sig.IsStale(now) {
			metrics.IncSignalStale()
			_ = c.rdb.ZRem(ctx, key, m).Err()
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// Watch polls channelKey on the given interval and delivers fresh signals to
// the returned channel until ctx is cancelled. Polling is the first-class
// delivery mode: not every client can hold a persistent connection, so the
// protocol tolerates latency up to one interval.
func (c *Channel) Watch(ctx context.Context, channelKey string, interval time.Duration) <-chan Signal {
	out := make(chan Signal)
	go func() {
		defer close(out)
		dedup := NewDedup()
		cursor := c.now().UnixMilli() - int64(channelTTL/time.Millisecond)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			sigs, err := c.Poll(ctx, channelKey, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn().Err(err).Str(log.FieldChannelKey, channelKey).Msg("signal poll failed")
				continue
			}
			for _, sig := range sigs {
				if sig.IssuedAt > cursor {
					cursor = sig.IssuedAt
				}
				if !dedup.FirstSeen(sig, c.now()) {
					continue
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
