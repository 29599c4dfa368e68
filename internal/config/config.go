// Package config loads flywheel.yaml and applies FLYWHEEL_* overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/auth"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/events"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/reservation"
)

const (
	DefaultPath = "flywheel.yaml"
	DefaultAddr = "127.0.0.1:7340"
	pathEnv     = "FLYWHEEL_CONFIG"
)

// Config is the complete service configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Reservations ReservationsConfig `yaml:"reservations"`
	Events       EventsConfig       `yaml:"events"`
	Logging      LoggingConfig      `yaml:"logging"`
	Auth         AuthConfig         `yaml:"auth"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	SocketPath      string        `yaml:"socket_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ReservationsConfig mirrors reservation.Config.
type ReservationsConfig struct {
	DefaultTTLSeconds int           `yaml:"default_ttl_seconds"`
	MaxTTLSeconds     int           `yaml:"max_ttl_seconds"`
	MaxRenewals       int           `yaml:"max_renewals"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	ExpirationWarning time.Duration `yaml:"expiration_warning"`
	ConflictRetention time.Duration `yaml:"conflict_retention"`
	CursorExpiration  time.Duration `yaml:"cursor_expiration"`
	DefaultLimit      int           `yaml:"default_limit"`
	MaxLimit          int           `yaml:"max_limit"`
}

type EventsConfig struct {
	BufferSize       int           `yaml:"buffer_size"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	KeysFile string `yaml:"keys_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	rc := reservation.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ShutdownTimeout: 5 * time.Second,
		},
		Reservations: ReservationsConfig{
			DefaultTTLSeconds: rc.DefaultTTLSeconds,
			MaxTTLSeconds:     rc.MaxTTLSeconds,
			MaxRenewals:       rc.MaxRenewals,
			CleanupInterval:   rc.CleanupInterval,
			ExpirationWarning: rc.ExpirationWarning,
			ConflictRetention: rc.ConflictRetention,
			CursorExpiration:  rc.CursorExpiration,
			DefaultLimit:      rc.DefaultLimit,
			MaxLimit:          rc.MaxLimit,
		},
		Events: EventsConfig{
			BufferSize:       events.DefaultBufferSize,
			BreakerThreshold: events.DefaultBreakerThreshold,
			BreakerReset:     events.DefaultBreakerReset,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Auth:    AuthConfig{KeysFile: auth.ResolveKeysPath()},
	}
}

// ResolvePath returns explicit, then FLYWHEEL_CONFIG, then ./flywheel.yaml.
func ResolvePath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(pathEnv)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the store cannot honor.
func (c Config) Validate() error {
	r := c.Reservations
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if r.DefaultTTLSeconds <= 0 {
		errs = append(errs, errors.New("reservations.default_ttl_seconds must be positive"))
	}
	if r.MaxTTLSeconds <= 0 {
		errs = append(errs, errors.New("reservations.max_ttl_seconds must be positive"))
	}
	if r.DefaultTTLSeconds > r.MaxTTLSeconds {
		errs = append(errs, fmt.Errorf("reservations.default_ttl_seconds (%d) exceeds max_ttl_seconds (%d)", r.DefaultTTLSeconds, r.MaxTTLSeconds))
	}
	if r.MaxRenewals < 0 {
		errs = append(errs, errors.New("reservations.max_renewals must not be negative"))
	}
	if r.CleanupInterval <= 0 {
		errs = append(errs, errors.New("reservations.cleanup_interval must be positive"))
	}
	if r.DefaultLimit <= 0 || r.MaxLimit <= 0 || r.DefaultLimit > r.MaxLimit {
		errs = append(errs, fmt.Errorf("reservations.default_limit (%d) must be positive and at most max_limit (%d)", r.DefaultLimit, r.MaxLimit))
	}
	if c.Events.BufferSize <= 0 {
		errs = append(errs, errors.New("events.buffer_size must be positive"))
	}
	return errors.Join(errs...)
}

// StoreConfig converts the reservations section.
func (c Config) StoreConfig() reservation.Config {
	r := c.Reservations
	return reservation.Config{
		DefaultTTLSeconds: r.DefaultTTLSeconds,
		MaxTTLSeconds:     r.MaxTTLSeconds,
		MaxRenewals:       r.MaxRenewals,
		CleanupInterval:   r.CleanupInterval,
		ExpirationWarning: r.ExpirationWarning,
		ConflictRetention: r.ConflictRetention,
		CursorExpiration:  r.CursorExpiration,
		DefaultLimit:      r.DefaultLimit,
		MaxLimit:          r.MaxLimit,
	}
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"FLYWHEEL_ADDR":        &c.Server.Addr,
		"FLYWHEEL_SOCKET_PATH": &c.Server.SocketPath,
		"FLYWHEEL_LOG_LEVEL":   &c.Logging.Level,
		"FLYWHEEL_LOG_FORMAT":  &c.Logging.Format,
		"FLYWHEEL_KEYS_FILE":   &c.Auth.KeysFile,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"FLYWHEEL_DEFAULT_TTL_SECONDS": &c.Reservations.DefaultTTLSeconds,
		"FLYWHEEL_MAX_TTL_SECONDS":     &c.Reservations.MaxTTLSeconds,
		"FLYWHEEL_MAX_RENEWALS":        &c.Reservations.MaxRenewals,
		"FLYWHEEL_DEFAULT_LIMIT":       &c.Reservations.DefaultLimit,
		"FLYWHEEL_MAX_LIMIT":           &c.Reservations.MaxLimit,
		"FLYWHEEL_EVENT_BUFFER_SIZE":   &c.Events.BufferSize,
	}
	for name, dst := range ints {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"FLYWHEEL_CLEANUP_INTERVAL":   &c.Reservations.CleanupInterval,
		"FLYWHEEL_EXPIRATION_WARNING": &c.Reservations.ExpirationWarning,
		"FLYWHEEL_CONFLICT_RETENTION": &c.Reservations.ConflictRetention,
		"FLYWHEEL_CURSOR_EXPIRATION":  &c.Reservations.CursorExpiration,
		"FLYWHEEL_SHUTDOWN_TIMEOUT":   &c.Server.ShutdownTimeout,
	}
	for name, dst := range durations {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
	}
	return nil
}
