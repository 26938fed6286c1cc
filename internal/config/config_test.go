package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("FAMTOOL_MASTER_SECRET", "x")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Port)
	require.Equal(t, "release", cfg.GinMode)
	require.Equal(t, "memory", cfg.StoreDriver)
	require.Equal(t, "Asia/Kolkata", cfg.Timezone)
	require.Equal(t, int64(5), cfg.PhotoLimit)
	require.Equal(t, int64(4), cfg.VideoLimit)
	require.Equal(t, int64(5), cfg.AudioLimit)
	require.Equal(t, 72*time.Hour, cfg.InactivityThreshold)
	require.Equal(t, 24*time.Hour, cfg.WarningWindow)
	require.Equal(t, []string{"pro", "enterprise"}, cfg.DigestPlans)
	require.Equal(t, 7*24*time.Hour, cfg.TokenExpiry)
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	t.Setenv("FAMTOOL_MASTER_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("FAMTOOL_MASTER_SECRET", "x")
	t.Setenv("FAMTOOL_PORT", "1234")
	t.Setenv("FAMTOOL_STORE_DRIVER", "redis")
	t.Setenv("FAMTOOL_DIGEST_AT", "21:30")
	t.Setenv("FAMTOOL_WARNING_WINDOW", "12h")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 1234, cfg.Port)
	require.Equal(t, "redis", cfg.StoreDriver)
	require.Equal(t, Clock{Hour: 21, Minute: 30}, MustClock(cfg.DigestAt))
	require.Equal(t, 12*time.Hour, cfg.WarningWindow)
}

func TestValidate_Rejects(t *testing.T) {
	base := Config{
		Port: 3000, MasterSecret: "x", TokenExpiry: time.Hour, Timezone: "Asia/Kolkata",
		StoreDriver: "memory", QuotaResetAt: "00:00", PurgeAt: "00:00", DigestAt: "22:00",
		InactivityThreshold: time.Hour, WarningWindow: time.Hour,
	}
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"port":      func(c *Config) { c.Port = 70000 },
		"timezone":  func(c *Config) { c.Timezone = "Mars/Olympus" },
		"driver":    func(c *Config) { c.StoreDriver = "etcd" },
		"clock":     func(c *Config) { c.DigestAt = "25:00" },
		"limit":     func(c *Config) { c.PhotoLimit = -1 },
		"threshold": func(c *Config) { c.WarningWindow = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("07:05")
	require.NoError(t, err)
	require.Equal(t, "07:05", c.String())

	for _, bad := range []string{"", "7", "aa:bb", "24:00", "12:60"} {
		_, err := ParseClock(bad)
		require.Error(t, err, bad)
	}
}
