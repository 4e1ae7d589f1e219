package config

import (
	"os"
	"time"
)

// RateLimitConfig drives the Redis token bucket in front of the admin
// export and rebuild routes.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

// LoadRateLimitConfig reads ADMIN_RATE_LIMIT_* and clamps the result to a
// usable bucket.  Buckets outlive at least five refill intervals.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:        envBool("ADMIN_RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("ADMIN_RATE_LIMIT_CAPACITY", 5),
		RefillTokens:   envInt("ADMIN_RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("ADMIN_RATE_LIMIT_REFILL_INTERVAL", time.Minute),
		TTL:            envDur("ADMIN_RATE_LIMIT_TTL", 10*time.Minute),
		Prefix:         envStr("ADMIN_RATE_LIMIT_PREFIX", "rl:admin"),
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.RefillTokens < 1 {
		cfg.RefillTokens = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Minute
	}
	if minTTL := 5 * cfg.RefillInterval; cfg.TTL < minTTL {
		cfg.TTL = minTTL
	}
	return cfg
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	case "0", "false", "FALSE", "False", "no", "off":
		return false
	}
	return d
}
