package config

import (
	"log"
	"time"
)

// ReservationConfig tunes the seat reservation engine and its sweeper.
type ReservationConfig struct {
	HoldTTL        time.Duration  // lifetime of a fresh hold
	AdvisoryWindow time.Duration  // hold window reported back to clients
	SweepInterval  time.Duration  // period of the expired-hold sweep
	SweepBatch     int            // max slots visited per sweep pass
	MaxAttempts    int            // optimistic write attempts before giving up
	Location       *time.Location // cinema local time zone for date/time inputs
}

func LoadReservationConfig() ReservationConfig {
	cfg := ReservationConfig{
		HoldTTL:        envDur("HOLD_TTL", 5*time.Minute),
		AdvisoryWindow: envDur("HOLD_ADVISORY_WINDOW", 10*time.Minute),
		SweepInterval:  envDur("SWEEP_INTERVAL", 45*time.Second),
		SweepBatch:     envInt("SWEEP_BATCH", 200),
		MaxAttempts:    envInt("CAS_MAX_ATTEMPTS", 8),
	}
	tz := envStr("CINEMA_TIMEZONE", "Asia/Ho_Chi_Minh")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Fatalf("invalid CINEMA_TIMEZONE %q: %v", tz, err)
	}
	cfg.Location = loc
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.SweepInterval < time.Second {
		cfg.SweepInterval = time.Second
	}
	return cfg
}

// OrderConfig tunes order creation and lifetime.
type OrderConfig struct {
	OrderTTL         time.Duration // unpaid order abandonment deadline
	PaidOrderTTL     time.Duration // retention horizon once paid
	CodePrefix       string        // order code prefix
	CodeAttempts     int           // uniqueness attempts for order codes
	LoyaltyPointUnit int64         // currency units per loyalty point
}

func LoadOrderConfig() OrderConfig {
	cfg := OrderConfig{
		OrderTTL:         envDur("ORDER_TTL", time.Hour),
		PaidOrderTTL:     envDur("PAID_ORDER_TTL", 365*24*time.Hour),
		CodePrefix:       envStr("ORDER_CODE_PREFIX", "CNM"),
		CodeAttempts:     envInt("ORDER_CODE_ATTEMPTS", 5),
		LoyaltyPointUnit: int64(envInt("LOYALTY_POINT_UNIT", 10000)),
	}
	if cfg.CodeAttempts < 1 {
		cfg.CodeAttempts = 1
	}
	if cfg.LoyaltyPointUnit < 1 {
		cfg.LoyaltyPointUnit = 1
	}
	return cfg
}
