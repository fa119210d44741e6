// Package config loads server configuration from a YAML file and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr         string `mapstructure:"addr"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type StorageConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTKey     string `mapstructure:"jwt_key"`
	AccessTTL  string `mapstructure:"access_ttl"`
	RefreshTTL string `mapstructure:"refresh_ttl"`
}

func (a AuthConfig) GetAccessTTL() time.Duration {
	d, _ := time.ParseDuration(a.AccessTTL)
	return d
}

func (a AuthConfig) GetRefreshTTL() time.Duration {
	d, _ := time.ParseDuration(a.RefreshTTL)
	return d
}

type SyncConfig struct {
	// StaleAfter bounds how long an interrupted run may hold the
	// in-progress flag before a new run may steal it.
	StaleAfter string `mapstructure:"stale_after"`
}

func (s SyncConfig) GetStaleAfter() time.Duration {
	d, _ := time.ParseDuration(s.StaleAfter)
	return d
}

type QueueConfig struct {
	MaxBodyLen int `mapstructure:"max_body_len"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads the config file (optional) and environment overrides with the
// MIRRORSMS_ prefix, e.g. MIRRORSMS_STORAGE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("auth.access_ttl", "15m")
	v.SetDefault("auth.refresh_ttl", "720h")
	v.SetDefault("sync.stale_after", "10m")
	v.SetDefault("queue.max_body_len", 10000)
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("MIRRORSMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
