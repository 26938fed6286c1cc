package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

const envPrefix = "FAMTOOL"

type Config struct {
	Port         int           `envconfig:"PORT" default:"3000"`
	MasterSecret string        `envconfig:"MASTER_SECRET"`
	GinMode      string        `envconfig:"GIN_MODE" default:"release"`
	TLSCertFile  string        `envconfig:"TLS_CERT_FILE"`
	TLSKeyFile   string        `envconfig:"TLS_KEY_FILE"`
	TokenExpiry  time.Duration `envconfig:"TOKEN_EXPIRY" default:"168h"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`

	// Region is where the deployment runs; it is stamped on logs and the health endpoint.
	Region   string `envconfig:"REGION" default:"asia-south1"`
	Timezone string `envconfig:"TIMEZONE" default:"Asia/Kolkata"`

	StoreDriver   string `envconfig:"STORE_DRIVER" default:"memory"`
	StateFile     string `envconfig:"STATE_FILE"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"famtool"`

	PhotoLimit int64 `envconfig:"PHOTO_LIMIT" default:"5"`
	VideoLimit int64 `envconfig:"VIDEO_LIMIT" default:"4"`
	AudioLimit int64 `envconfig:"AUDIO_LIMIT" default:"5"`

	InactivityThreshold time.Duration `envconfig:"INACTIVITY_THRESHOLD" default:"72h"`
	WarningWindow       time.Duration `envconfig:"WARNING_WINDOW" default:"24h"`
	QuotaResetAt        string        `envconfig:"QUOTA_RESET_AT" default:"00:00"`
	PurgeAt             string        `envconfig:"PURGE_AT" default:"00:00"`
	DigestAt            string        `envconfig:"DIGEST_AT" default:"22:00"`
	DigestPlans         []string      `envconfig:"DIGEST_PLANS" default:"pro,enterprise"`
	SchedulerEnabled    bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	AsyncTriggers       bool          `envconfig:"ASYNC_TRIGGERS" default:"true"`

	SigninRateLimit    int `envconfig:"SIGNIN_RATE_LIMIT" default:"10"`
	TelemetryRateLimit int `envconfig:"TELEMETRY_RATE_LIMIT" default:"600"`
}

// LoadConfig reads FAMTOOL_* variables from the process environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	log.Info().
		Int("port", cfg.Port).
		Str("region", cfg.Region).
		Str("timezone", cfg.Timezone).
		Str("store_driver", cfg.StoreDriver).
		Bool("state_file_present", cfg.StateFile != "").
		Bool("scheduler", cfg.SchedulerEnabled).
		Msg("configuration loaded")
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MasterSecret == "" {
		return fmt.Errorf("MASTER_SECRET is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT")
	}
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("invalid TOKEN_EXPIRY")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	switch c.StoreDriver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}
	for name, raw := range map[string]string{"QUOTA_RESET_AT": c.QuotaResetAt, "PURGE_AT": c.PurgeAt, "DIGEST_AT": c.DigestAt} {
		if _, err := ParseClock(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if c.PhotoLimit < 0 || c.VideoLimit < 0 || c.AudioLimit < 0 {
		return fmt.Errorf("media limits must not be negative")
	}
	if c.InactivityThreshold <= 0 || c.WarningWindow <= 0 {
		return fmt.Errorf("purge thresholds must be positive")
	}
	return nil
}

// Location returns the zone quota dates and schedules are computed in.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func ParseClock(raw string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("expected HH:MM, got %q", raw)
	}
	var c Clock
	if _, err := fmt.Sscanf(parts[0], "%d", &c.Hour); err != nil {
		return Clock{}, fmt.Errorf("bad hour in %q", raw)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &c.Minute); err != nil {
		return Clock{}, fmt.Errorf("bad minute in %q", raw)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return Clock{}, fmt.Errorf("out of range %q", raw)
	}
	return c, nil
}

// MustClock is for values already checked by Validate.
func MustClock(raw string) Clock {
	c, err := ParseClock(raw)
	if err != nil {
		panic(err)
	}
	return c
}
