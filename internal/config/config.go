package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultPath = "config/config.yaml"

type FilesConfig struct {
	FontPath string `yaml:"font_path"`
}

type MobizonConfig struct {
	APIKey   string `yaml:"api_key"`
	SenderID string `yaml:"sender_id"`
	DryRun   bool   `yaml:"dry_run"`
}

type TelegramConfig struct {
	BotToken    string `yaml:"bot_token"`
	AlertChat   int64  `yaml:"alert_chat_id"`
	APIEndpoint string `yaml:"api_endpoint"`
}

type GeoIPConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type CookieConfig struct {
	Domain string `yaml:"domain"`
	// Secure is true unless set to false; ApplyDefaults relaxes it for local envs.
	Secure *bool `yaml:"secure"`
}

func (c CookieConfig) IsSecure() bool {
	return c.Secure == nil || *c.Secure
}

type LockoutConfig struct {
	DeviceThreshold int             `yaml:"device_threshold"`
	DeviceDurations []time.Duration `yaml:"device_durations"`
	IPThreshold     int             `yaml:"ip_threshold"`
	IPDuration      time.Duration   `yaml:"ip_duration"`
}

type RateLimitConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Register      int    `yaml:"register_per_minute"`
	Login         int    `yaml:"login_per_minute"`
	Refresh       int    `yaml:"refresh_per_minute"`
}

type SecurityConfig struct {
	JWTSecret       string          `yaml:"jwt_secret"`
	AccessTokenTTL  time.Duration   `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration   `yaml:"refresh_token_ttl"`
	TwoFactorTTL    time.Duration   `yaml:"two_factor_ttl"`
	ResetTokenTTL   time.Duration   `yaml:"password_reset_ttl"`
	MaxSessions     int             `yaml:"max_sessions"`
	RecoveryCodes   int             `yaml:"recovery_codes"`
	Lockout         LockoutConfig   `yaml:"lockout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Cookie          CookieConfig    `yaml:"cookie"`
}

type Config struct {
	App struct {
		Name string `yaml:"name"`
		Env  string `yaml:"env"`
		Key  string `yaml:"key"`
	} `yaml:"app"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"url"`
	} `yaml:"database"`
	Email struct {
		SMTPHost     string `yaml:"smtp_host"`
		SMTPPort     int    `yaml:"smtp_port"`
		SMTPUser     string `yaml:"smtp_user"`
		SMTPPassword string `yaml:"smtp_password"`
		FromEmail    string `yaml:"from_email"`
	} `yaml:"email"`
	Security SecurityConfig `yaml:"security"`
	Files    FilesConfig    `yaml:"files"`
	Mobizon  MobizonConfig  `yaml:"mobizon"`
	Telegram TelegramConfig `yaml:"telegram"`
	GeoIP    GeoIPConfig    `yaml:"geoip"`
}

// LoadConfig reads CONFIG_PATH (or config/config.yaml), applies env
// overrides and fills defaults.
func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("APP_KEY"); v != "" {
		c.App.Key = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Security.JWTSecret = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		c.App.Env = v
	}
}

// ApplyDefaults fills zero values with the production policy.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "invento"
	}
	if c.App.Env == "" {
		c.App.Env = "local"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}

	s := &c.Security
	if s.AccessTokenTTL == 0 {
		s.AccessTokenTTL = 15 * time.Minute
	}
	if s.RefreshTokenTTL == 0 {
		s.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if s.TwoFactorTTL == 0 {
		s.TwoFactorTTL = 10 * time.Minute
	}
	if s.ResetTokenTTL == 0 {
		s.ResetTokenTTL = time.Hour
	}
	if s.MaxSessions == 0 {
		s.MaxSessions = 3
	}
	if s.RecoveryCodes == 0 {
		s.RecoveryCodes = 8
	}
	if s.Lockout.DeviceThreshold == 0 {
		s.Lockout.DeviceThreshold = 5
	}
	if len(s.Lockout.DeviceDurations) == 0 {
		s.Lockout.DeviceDurations = []time.Duration{
			time.Minute, 5 * time.Minute, 30 * time.Minute, 60 * time.Minute,
		}
	}
	if s.Lockout.IPThreshold == 0 {
		s.Lockout.IPThreshold = 20
	}
	if s.Lockout.IPDuration == 0 {
		s.Lockout.IPDuration = 30 * time.Minute
	}
	if s.Cookie.Secure == nil {
		secure := !c.IsLocal()
		s.Cookie.Secure = &secure
	}
	if s.RateLimit.Register == 0 {
		s.RateLimit.Register = 5
	}
	if s.RateLimit.Login == 0 {
		s.RateLimit.Login = 5
	}
	if s.RateLimit.Refresh == 0 {
		s.RateLimit.Refresh = 10
	}

	if c.GeoIP.Timeout == 0 {
		c.GeoIP.Timeout = 2 * time.Second
	}
	if c.Files.FontPath == "" {
		c.Files.FontPath = "assets/fonts/DejaVuSans.ttf"
	}
}

func (c *Config) Validate() error {
	if len(c.App.Key) < 16 {
		return fmt.Errorf("app.key must be at least 16 characters")
	}
	if len(c.Security.JWTSecret) < 16 {
		return fmt.Errorf("security.jwt_secret must be at least 16 characters")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	return nil
}

func (c *Config) IsLocal() bool {
	env := strings.ToLower(c.App.Env)
	return env == "local" || env == "dev" || env == "development" || env == "test"
}
