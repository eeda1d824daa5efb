package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/cinema-ticketing/internal/config"
	"github.com/iliyamo/cinema-ticketing/internal/model"
)

func unreachable(t *testing.T) *redis.Client {
	t.Helper()
	c := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewSeatMapCacheDisabled(t *testing.T) {
	assert.Nil(t, NewSeatMapCache(config.CacheConfig{Enabled: false}, unreachable(t), nil))
	assert.Nil(t, NewSeatMapCache(config.CacheConfig{Enabled: true}, nil, nil))
}

func TestSeatMapCacheKeyAndDefaults(t *testing.T) {
	c := NewSeatMapCache(config.CacheConfig{Enabled: true, Prefix: "seatmap"}, unreachable(t), nil)
	require.NotNil(t, c)
	assert.Equal(t, "seatmap:slot:42", c.key(42))
	assert.Equal(t, 5*time.Second, c.ttl)
}

func TestSeatMapCacheDegradesToMiss(t *testing.T) {
	c := NewSeatMapCache(config.CacheConfig{Enabled: true, Prefix: "p", TTL: time.Second}, unreachable(t), zaptest.NewLogger(t))
	ctx := context.Background()

	c.Set(ctx, &model.SeatMap{Slot: model.Slot{ID: 1}})
	m, ok := c.Get(ctx, 1)
	assert.False(t, ok)
	assert.Nil(t, m)
	c.Invalidate(ctx, 1)
}
