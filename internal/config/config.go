// Package config loads the daemon configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr      string `yaml:"addr"`
	RedisURL  string `yaml:"redis_url"`
	DBPath    string `yaml:"db_path"`
	JWTSecret string `yaml:"jwt_secret"`

	PresenceTTL       time.Duration `yaml:"presence_ttl"`
	OfflineRetention  time.Duration `yaml:"offline_retention"`
	ContactCacheTTL   time.Duration `yaml:"contact_cache_ttl"`
	GraceWindow       time.Duration `yaml:"grace_window"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	StaleTimeout      time.Duration `yaml:"stale_timeout"`
}

func Default() Config {
	return Config{
		Addr:              ":7480",
		RedisURL:          "redis://localhost:6379",
		DBPath:            "presence.db",
		PresenceTTL:       2 * time.Minute,
		OfflineRetention:  7 * 24 * time.Hour,
		ContactCacheTTL:   30 * time.Second,
		GraceWindow:       2 * time.Second,
		HeartbeatInterval: 25 * time.Second,
		SweepInterval:     60 * time.Second,
		StaleTimeout:      90 * time.Second,
	}
}

// Load reads the config file at path (missing file means defaults), then
// applies environment overrides. Validation happens last so overrides are
// covered too.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Addr, "PRESENCED_ADDR")
	setString(&cfg.RedisURL, "PRESENCED_REDIS_URL")
	setString(&cfg.DBPath, "PRESENCED_DB_PATH")
	setString(&cfg.JWTSecret, "PRESENCED_JWT_SECRET")
	setDuration(&cfg.PresenceTTL, "PRESENCED_PRESENCE_TTL")
	setDuration(&cfg.OfflineRetention, "PRESENCED_OFFLINE_RETENTION")
	setDuration(&cfg.ContactCacheTTL, "PRESENCED_CONTACT_CACHE_TTL")
	setDuration(&cfg.GraceWindow, "PRESENCED_GRACE_WINDOW")
	setDuration(&cfg.HeartbeatInterval, "PRESENCED_HEARTBEAT_INTERVAL")
	setDuration(&cfg.SweepInterval, "PRESENCED_SWEEP_INTERVAL")
	setDuration(&cfg.StaleTimeout, "PRESENCED_STALE_TIMEOUT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret required (set PRESENCED_JWT_SECRET or run `presenced init`)")
	}
	if c.GraceWindow <= 0 {
		return fmt.Errorf("grace_window must be positive")
	}
	if c.StaleTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("stale_timeout must exceed heartbeat_interval")
	}
	return nil
}
