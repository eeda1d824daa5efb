// Package cache holds the Redis-backed seat-map read cache.  It is
// constructed once in main and handed to the reservation engine; there is
// no package-level client.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticketing/internal/config"
	"github.com/iliyamo/cinema-ticketing/internal/model"
)

// SeatMapCache caches seat maps by slot id.  Each entry is a hash holding
// the slot version and the encoded map.  The engine writes every committed
// map through, and a write never replaces a newer version, so a reader
// that loaded before a commit cannot put the older map back.  All Redis
// errors degrade to a cache miss.
type SeatMapCache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

// setIfNewer stores ARGV[2] as version ARGV[1] unless the entry already
// holds that version or a newer one.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'm', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// NewSeatMapCache returns nil when caching is disabled or rdb is nil.
// A nil *SeatMapCache must not be passed to the engine as a Cache since a
// typed nil interface is non-nil; callers check the return value.
func NewSeatMapCache(cfg config.CacheConfig, rdb redis.UniversalClient, log *zap.Logger) *SeatMapCache {
	if !cfg.Enabled || rdb == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &SeatMapCache{rdb: rdb, ttl: ttl, prefix: cfg.Prefix, log: log.Named("seatmap_cache")}
}

func (c *SeatMapCache) key(slotID uint64) string {
	return c.prefix + ":slot:" + strconv.FormatUint(slotID, 10)
}

// Get returns a cached seat map.
func (c *SeatMapCache) Get(ctx context.Context, slotID uint64) (*model.SeatMap, bool) {
	bs, err := c.rdb.HGet(ctx, c.key(slotID), "m").Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug("cache get failed", zap.Uint64("slot_id", slotID), zap.Error(err))
		}
		return nil, false
	}
	var m model.SeatMap
	if err := json.Unmarshal(bs, &m); err != nil {
		c.log.Warn("cache entry corrupt", zap.Uint64("slot_id", slotID), zap.Error(err))
		return nil, false
	}
	return &m, true
}

// Set stores m unless a newer version of the slot is cached.  If the write
// fails the entry is dropped so readers fall back to the store.
func (c *SeatMapCache) Set(ctx context.Context, m *model.SeatMap) {
	bs, err := json.Marshal(m)
	if err != nil {
		return
	}
	key := c.key(m.Slot.ID)
	args := []interface{}{m.Slot.Version, bs, c.ttl.Milliseconds()}
	if err := setIfNewer.Run(ctx, c.rdb, []string{key}, args...).Err(); err != nil {
		c.log.Debug("cache set failed", zap.Uint64("slot_id", m.Slot.ID), zap.Error(err))
		c.Invalidate(ctx, m.Slot.ID)
	}
}

// Invalidate drops the entry for slotID.
func (c *SeatMapCache) Invalidate(ctx context.Context, slotID uint64) {
	if err := c.rdb.Del(ctx, c.key(slotID)).Err(); err != nil {
		c.log.Warn("cache invalidate failed", zap.Uint64("slot_id", slotID), zap.Error(err))
	}
}
