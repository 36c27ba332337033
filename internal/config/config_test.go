package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15.0, cfg.Payments.PlatformFeePercent)
	assert.Equal(t, 48*time.Hour, cfg.Payments.ClearingWindow)
	assert.Equal(t, 15*time.Minute, cfg.Payments.PromotionInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Escrow.AuthorizationWindow)
	assert.Equal(t, 24*time.Hour, cfg.Escrow.RenewalBuffer)
	assert.Equal(t, 4*time.Hour, cfg.Escrow.RenewalInterval)
	assert.Equal(t, 48*time.Hour, cfg.Escrow.GracePeriod)
	assert.Equal(t, time.Hour, cfg.Reconcile.Interval)
	assert.Equal(t, "settlement", cfg.Metrics.Namespace)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
payments:
  clearing_window: 24h
lark:
  app_id: cli_a1
`), 0o600))

	t.Setenv("SETTLEMENT_PAYMENTS_PLATFORM_FEE_PERCENT", "10")
	t.Setenv("LARK_APP_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Payments.ClearingWindow)
	assert.Equal(t, 10.0, cfg.Payments.PlatformFeePercent)
	assert.Equal(t, "cli_a1", cfg.Lark.AppID)
	assert.Equal(t, "s3cret", cfg.Lark.AppSecret)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("SETTLEMENT_ESCROW_RENEWAL_BUFFER", "200h")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escrow.renewal_buffer")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SETTLEMENT_GATEWAY_BASE_URL=http://sidecar:9000\n"), 0o600))

	// registers restore of the original value, then clears it for gotenv
	t.Setenv("SETTLEMENT_GATEWAY_BASE_URL", "")
	require.NoError(t, os.Unsetenv("SETTLEMENT_GATEWAY_BASE_URL"))

	require.NoError(t, LoadDotEnv(path))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://sidecar:9000", cfg.Gateway.BaseURL)

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"fee at 100", func(c *Config) { c.Payments.PlatformFeePercent = 100 }, "platform_fee_percent"},
		{"zero promotion interval", func(c *Config) { c.Payments.PromotionInterval = 0 }, "promotion_interval"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"lark without secret", func(c *Config) { c.Lark.AppID = "cli"; c.Lark.AppSecret = "" }, "lark.app_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
