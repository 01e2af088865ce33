package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  key: 0123456789abcdef0123
database:
  driver: memory
security:
  jwt_secret: fedcba9876543210fedcba
`)
	t.Setenv("CONFIG_PATH", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 15*time.Minute, cfg.Security.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.Security.RefreshTokenTTL)
	require.Equal(t, 3, cfg.Security.MaxSessions)
	require.Equal(t, 8, cfg.Security.RecoveryCodes)
	require.Equal(t, 5, cfg.Security.Lockout.DeviceThreshold)
	require.Equal(t, []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute, time.Hour}, cfg.Security.Lockout.DeviceDurations)
	require.Equal(t, 20, cfg.Security.Lockout.IPThreshold)
	require.Equal(t, 30*time.Minute, cfg.Security.Lockout.IPDuration)
	require.True(t, cfg.IsLocal())
	require.False(t, cfg.Security.Cookie.IsSecure())
}

func TestLoadConfigParsesDurationsAndEnv(t *testing.T) {
	path := writeConfig(t, `
app:
  env: production
  key: 0123456789abcdef0123
database:
  url: postgres://from-file
security:
  jwt_secret: fedcba9876543210fedcba
  access_token_ttl: 5m
  lockout:
    device_durations: [2m, 4m]
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DATABASE_URL", "postgres://from-env")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "postgres://from-env", cfg.Database.DSN)
	require.Equal(t, 5*time.Minute, cfg.Security.AccessTokenTTL)
	require.Equal(t, []time.Duration{2 * time.Minute, 4 * time.Minute}, cfg.Security.Lockout.DeviceDurations)
	require.False(t, cfg.IsLocal())
	require.True(t, cfg.Security.Cookie.IsSecure())
}

func TestValidateRejectsShortKeys(t *testing.T) {
	cfg := &Config{}
	cfg.App.Key = "short"
	cfg.Security.JWTSecret = "fedcba9876543210fedcba"
	cfg.ApplyDefaults()
	require.Error(t, cfg.Validate())

	cfg.App.Key = "0123456789abcdef0123"
	cfg.Database.Driver = "mysql"
	require.Error(t, cfg.Validate())
}

func TestCookieSecureDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.App.Env = "production"
	cfg.ApplyDefaults()
	require.True(t, cfg.Security.Cookie.IsSecure())

	off := false
	cfg = &Config{}
	cfg.App.Env = "production"
	cfg.Security.Cookie.Secure = &off
	cfg.ApplyDefaults()
	require.False(t, cfg.Security.Cookie.IsSecure())

	require.True(t, CookieConfig{}.IsSecure())
}
