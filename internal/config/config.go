package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr      string `mapstructure:"addr"`
		LogLevel  string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"`
	} `mapstructure:"server"`

	Storage struct {
		Driver      string `mapstructure:"driver"` // postgres | file
		CatalogPath string `mapstructure:"catalog_path"`

		// RefreshSeconds is the catalog poll interval; 0 disables polling.
		RefreshSeconds int `mapstructure:"refresh_seconds"`
	} `mapstructure:"storage"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Redis struct {
		URL       string `mapstructure:"url"`
		KeyPrefix string `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`

	// Hooks are the resolved values of the host's override points.
	Hooks struct {
		ContentSelector         string `mapstructure:"content_selector"`
		GlobalCooldownSeconds   int    `mapstructure:"global_cooldown_seconds"`
		TemplateCooldownSeconds int    `mapstructure:"template_cooldown_seconds"`
		OverlayColor            string `mapstructure:"overlay_color"`
		ForceAssetLoad          bool   `mapstructure:"force_asset_load"`
	} `mapstructure:"hooks"`
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

// bindEnv registers every key so APP_* variables apply without a config file.
func bindEnv(v *viper.Viper) {
	for _, k := range []string{
		"server.addr", "server.log_level", "server.log_format",
		"storage.driver", "storage.catalog_path", "storage.refresh_seconds",
		"postgres.host", "postgres.port", "postgres.user", "postgres.password",
		"postgres.db_name", "postgres.ssl_mode", "postgres.max_open_conns", "postgres.max_idle_conns",
		"listener.channel", "listener.reconnect_seconds",
		"redis.url", "redis.key_prefix",
		"hooks.content_selector", "hooks.global_cooldown_seconds", "hooks.template_cooldown_seconds",
		"hooks.overlay_color", "hooks.force_asset_load",
	} {
		_ = v.BindEnv(k)
	}
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Storage.Driver == "" { c.Storage.Driver = "postgres" }
	if c.Storage.CatalogPath == "" { c.Storage.CatalogPath = "configs/catalog.yaml" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 10 }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Redis.KeyPrefix == "" { c.Redis.KeyPrefix = "cta:" }
	if c.Hooks.GlobalCooldownSeconds <= 0 { c.Hooks.GlobalCooldownSeconds = 3600 }
	if c.Hooks.TemplateCooldownSeconds <= 0 { c.Hooks.TemplateCooldownSeconds = 86400 }
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Storage.RefreshSeconds) * time.Second
}

func (c Config) GlobalCooldown() time.Duration {
	return time.Duration(c.Hooks.GlobalCooldownSeconds) * time.Second
}

func (c Config) TemplateCooldown() time.Duration {
	return time.Duration(c.Hooks.TemplateCooldownSeconds) * time.Second
}
