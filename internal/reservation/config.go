package reservation

import (
	"time"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/pagination"
)

// Defaults for Config.
const (
	DefaultTTLSeconds        = 300
	DefaultMaxTTLSeconds     = 3600
	DefaultMaxRenewals       = 10
	DefaultCleanupInterval   = 10 * time.Second
	DefaultExpirationWarning = 30 * time.Second
	DefaultConflictRetention = 24 * time.Hour
)

// Config holds the lease limits and sweeper timings of a Store.
type Config struct {
	DefaultTTLSeconds int
	MaxTTLSeconds     int
	MaxRenewals       int
	CleanupInterval   time.Duration
	ExpirationWarning time.Duration
	ConflictRetention time.Duration
	CursorExpiration  time.Duration
	DefaultLimit      int
	MaxLimit          int
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		DefaultTTLSeconds: DefaultTTLSeconds,
		MaxTTLSeconds:     DefaultMaxTTLSeconds,
		MaxRenewals:       DefaultMaxRenewals,
		CleanupInterval:   DefaultCleanupInterval,
		ExpirationWarning: DefaultExpirationWarning,
		ConflictRetention: DefaultConflictRetention,
		CursorExpiration:  pagination.DefaultCursorExpiration,
		DefaultLimit:      pagination.DefaultLimit,
		MaxLimit:          pagination.DefaultMaxLimit,
	}
}

// withDefaults fills zero fields. MaxRenewals is left alone when zero is set
// explicitly alongside other fields, since zero renewals is a valid policy.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c == (Config{}) {
		return d
	}
	if c.DefaultTTLSeconds <= 0 {
		c.DefaultTTLSeconds = d.DefaultTTLSeconds
	}
	if c.MaxTTLSeconds <= 0 {
		c.MaxTTLSeconds = d.MaxTTLSeconds
	}
	if c.DefaultTTLSeconds > c.MaxTTLSeconds {
		c.DefaultTTLSeconds = c.MaxTTLSeconds
	}
	if c.MaxRenewals < 0 {
		c.MaxRenewals = 0
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.ExpirationWarning < 0 {
		c.ExpirationWarning = 0
	}
	if c.ConflictRetention <= 0 {
		c.ConflictRetention = d.ConflictRetention
	}
	if c.CursorExpiration <= 0 {
		c.CursorExpiration = d.CursorExpiration
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	return c
}

func (c Config) limits() pagination.Limits {
	return pagination.Limits{Default: c.DefaultLimit, Max: c.MaxLimit}
}
