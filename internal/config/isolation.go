package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/iliyamo/account-service/internal/isolation"
)

// GroupLimits is the env shape of one isolation group.  Zero values fall
// back to isolation.DefaultLimits.
type GroupLimits struct {
	MaxConcurrent    int           `env:"MAX_CONCURRENT"`
	Timeout          time.Duration `env:"TIMEOUT"`
	FailureThreshold uint32        `env:"FAILURE_THRESHOLD"`
	OpenTimeout      time.Duration `env:"OPEN_TIMEOUT"`
	HalfOpenRequests uint32        `env:"HALF_OPEN_REQUESTS"`
}

// IsolationConfig holds per-dependency bulkhead limits, read from
// ISOLATION_STORE_*, ISOLATION_CACHE_* and ISOLATION_INDEX_*.
type IsolationConfig struct {
	Store GroupLimits `envPrefix:"ISOLATION_STORE_"`
	Cache GroupLimits `envPrefix:"ISOLATION_CACHE_"`
	Index GroupLimits `envPrefix:"ISOLATION_INDEX_"`
}

// LoadIsolationConfig parses the isolation limits from the environment.
func LoadIsolationConfig() (IsolationConfig, error) {
	var cfg IsolationConfig
	if err := env.Parse(&cfg); err != nil {
		return IsolationConfig{}, fmt.Errorf("parse isolation env: %w", err)
	}
	return cfg, nil
}

// Limits converts the config into the executor's per-group limits.
func (c IsolationConfig) Limits() map[isolation.Group]isolation.Limits {
	return map[isolation.Group]isolation.Limits{
		isolation.Store: c.Store.limits(),
		isolation.Cache: c.Cache.limits(),
		isolation.Index: c.Index.limits(),
	}
}

func (g GroupLimits) limits() isolation.Limits {
	return isolation.Limits{
		MaxConcurrent:    g.MaxConcurrent,
		Timeout:          g.Timeout,
		FailureThreshold: g.FailureThreshold,
		OpenTimeout:      g.OpenTimeout,
		HalfOpenRequests: g.HalfOpenRequests,
	}
}
