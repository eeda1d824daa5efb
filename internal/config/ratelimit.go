package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig parameterises one token bucket.  Buckets are scoped so
// the seat hold and checkout routes can be throttled independently of the
// rest of the API.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables.  A non-empty scope is
// checked first (RATE_LIMIT_HOLD_CAPACITY before RATE_LIMIT_CAPACITY).
func LoadRateLimitConfig(scope string) RateLimitConfig {
	get := func(k string) string {
		if scope != "" {
			if v := os.Getenv("RATE_LIMIT_" + strings.ToUpper(scope) + "_" + k); v != "" {
				return v
			}
		}
		return os.Getenv("RATE_LIMIT_" + k)
	}
	cfg := RateLimitConfig{
		Enabled:        parseBool(get("ENABLED"), true),
		Capacity:       parseInt(get("CAPACITY"), 20),
		RefillTokens:   parseInt(get("REFILL_TOKENS"), 1),
		RefillInterval: parseDuration(get("REFILL_INTERVAL"), 3*time.Second),
		TTL:            parseDuration(get("TTL"), 10*time.Minute),
		KeyStrategy:    strings.ToLower(orDefault(get("KEY_STRATEGY"), "user_route")),
		Prefix:         orDefault(get("PREFIX"), "rl"),
	}
	if scope != "" {
		cfg.Prefix += ":" + strings.ToLower(scope)
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.RefillTokens < 1 {
		cfg.RefillTokens = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	if minTTL := 5 * cfg.RefillInterval; cfg.TTL < minTTL {
		cfg.TTL = minTTL
	}
	return cfg
}

func envStr(k, d string) string { return orDefault(os.Getenv(k), d) }

func envBool(k string, d bool) bool { return parseBool(os.Getenv(k), d) }

func envInt(k string, d int) int { return parseInt(os.Getenv(k), d) }

func envDur(k string, d time.Duration) time.Duration { return parseDuration(os.Getenv(k), d) }

func orDefault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func parseBool(v string, d bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func parseInt(v string, d int) int {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func parseDuration(v string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
