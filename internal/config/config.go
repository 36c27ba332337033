package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. SETTLEMENT_SERVER_PORT
const EnvPrefix = "SETTLEMENT"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	Escrow    EscrowConfig    `mapstructure:"escrow"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Lark      LarkConfig      `mapstructure:"lark"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// PublicURL prefixes the links placed in notifications
	PublicURL string `mapstructure:"public_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PaymentsConfig holds the clearing-window settings
type PaymentsConfig struct {
	PlatformFeePercent float64       `mapstructure:"platform_fee_percent"`
	ClearingWindow     time.Duration `mapstructure:"clearing_window"`
	PromotionInterval  time.Duration `mapstructure:"promotion_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
}

// EscrowConfig holds card authorization settings
type EscrowConfig struct {
	AuthorizationWindow time.Duration `mapstructure:"authorization_window"`
	RenewalBuffer       time.Duration `mapstructure:"renewal_buffer"`
	RenewalInterval     time.Duration `mapstructure:"renewal_interval"`
	GracePeriod         time.Duration `mapstructure:"grace_period"`
	BatchSize           int           `mapstructure:"batch_size"`
}

// ReconcileConfig holds the reconciliation sweep settings
type ReconcileConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// GatewayConfig holds the payments sidecar connection
type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LarkConfig holds Lark API configuration. Notifications fall back to the
// log when AppID is empty.
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// MetricsConfig holds prometheus settings
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error. Variables already set are kept.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads configPath (optional) and applies environment overrides
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.public_url", "https://irlwork.ai")

	v.SetDefault("database.path", "data/settlement.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("payments.platform_fee_percent", 15.0)
	v.SetDefault("payments.clearing_window", 48*time.Hour)
	v.SetDefault("payments.promotion_interval", 15*time.Minute)
	v.SetDefault("payments.batch_size", 500)

	v.SetDefault("escrow.authorization_window", 7*24*time.Hour)
	v.SetDefault("escrow.renewal_buffer", 24*time.Hour)
	v.SetDefault("escrow.renewal_interval", 4*time.Hour)
	v.SetDefault("escrow.grace_period", 48*time.Hour)
	v.SetDefault("escrow.batch_size", 200)

	v.SetDefault("reconcile.interval", time.Hour)

	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.timeout", 30*time.Second)

	v.SetDefault("lark.app_id", "")
	v.SetDefault("lark.app_secret", "")
	v.SetDefault("lark.base_url", "")

	v.SetDefault("metrics.namespace", "settlement")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the unprefixed names secrets are usually deployed under
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"gateway.api_key": {"SETTLEMENT_GATEWAY_API_KEY", "PAYMENTS_GATEWAY_API_KEY"},
		"lark.app_id":     {"SETTLEMENT_LARK_APP_ID", "LARK_APP_ID"},
		"lark.app_secret": {"SETTLEMENT_LARK_APP_SECRET", "LARK_APP_SECRET"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Payments.PlatformFeePercent < 0 || c.Payments.PlatformFeePercent >= 100 {
		return fmt.Errorf("payments.platform_fee_percent must be in [0, 100), got %v", c.Payments.PlatformFeePercent)
	}
	if c.Payments.ClearingWindow < 0 {
		return fmt.Errorf("payments.clearing_window must not be negative")
	}

	intervals := map[string]time.Duration{
		"payments.promotion_interval": c.Payments.PromotionInterval,
		"escrow.renewal_interval":     c.Escrow.RenewalInterval,
		"reconcile.interval":          c.Reconcile.Interval,
	}
	for key, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	if c.Escrow.AuthorizationWindow <= 0 {
		return fmt.Errorf("escrow.authorization_window must be positive")
	}
	if c.Escrow.RenewalBuffer <= 0 || c.Escrow.RenewalBuffer >= c.Escrow.AuthorizationWindow {
		return fmt.Errorf("escrow.renewal_buffer must be positive and shorter than escrow.authorization_window")
	}

	if c.Lark.AppID != "" && c.Lark.AppSecret == "" {
		return fmt.Errorf("lark.app_secret is required when lark.app_id is set")
	}

	return nil
}
