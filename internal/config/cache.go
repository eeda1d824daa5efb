package config

import (
	"strings"
	"time"
)

// CacheConfig defines settings for the seat-map read cache.  When Enabled
// is false or no Redis client is configured, reads go straight to MySQL.
type CacheConfig struct {
	Enabled     bool
	TTL         time.Duration
	Prefix      string
	ResponseTTL time.Duration // admin report response cache; 0 disables
}

func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: envBool("CACHE_ENABLED", true),
		TTL:     envDur("CACHE_TTL", 5*time.Second),
		Prefix:  envStr("CACHE_PREFIX", "seatmap"),

		ResponseTTL: envDur("CACHE_RESPONSE_TTL", 30*time.Second),
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
