package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_SERVER_ADDR", ":9999")
	t.Setenv("APP_STORAGE_DRIVER", "file")
	t.Setenv("APP_HOOKS_GLOBAL_COOLDOWN_SECONDS", "120")
	t.Setenv("APP_HOOKS_OVERLAY_COLOR", "#000")

	cfg := Load()

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, 2*time.Minute, cfg.GlobalCooldown())
	assert.Equal(t, "#000", cfg.Hooks.OverlayColor)
	assert.Equal(t, 24*time.Hour, cfg.TemplateCooldown(), "default")
}

func TestValidate_Defaults(t *testing.T) {
	var c Config
	validate(&c)

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "postgres", c.Storage.Driver)
	assert.Equal(t, 5432, c.Postgres.Port)
	assert.Equal(t, 5*time.Second, c.Backoff())
	assert.Equal(t, "cta:", c.Redis.KeyPrefix)
	assert.Equal(t, time.Hour, c.GlobalCooldown())
	assert.Equal(t, "postgres://:@:5432/?sslmode=disable", c.DSN())
}

func TestRefreshInterval(t *testing.T) {
	t.Setenv("APP_STORAGE_REFRESH_SECONDS", "15")
	assert.Equal(t, 15*time.Second, Load().RefreshInterval())
}
