package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nhle/coursedesk/internal/validate"
)

// APIConfig holds the backend endpoints.
type APIConfig struct {
	// BaseURL is the REST root, e.g. http://localhost:3000/api.
	BaseURL string `mapstructure:"base_url" yaml:"base_url" json:"base_url" validate:"required,url"`

	// SocketURL is the realtime WebSocket endpoint.
	SocketURL string `mapstructure:"socket_url" yaml:"socket_url" json:"socket_url" validate:"required,url"`

	// TimeoutSec bounds every REST call.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec" validate:"min=1"`
}

// RealtimeConfig holds the transport's reconnection policy.
type RealtimeConfig struct {
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts" json:"max_reconnect_attempts" validate:"min=0"`
	ReconnectDelayMs     int `mapstructure:"reconnect_delay_ms" yaml:"reconnect_delay_ms" json:"reconnect_delay_ms" validate:"min=1"`
	ReconnectDelayMaxMs  int `mapstructure:"reconnect_delay_max_ms" yaml:"reconnect_delay_max_ms" json:"reconnect_delay_max_ms" validate:"gtefield=ReconnectDelayMs"`
}

// PollingConfig holds the refresh interval of every notification queue.
type PollingConfig struct {
	SalesSec             int `mapstructure:"sales_sec" yaml:"sales_sec" json:"sales_sec" validate:"min=5"`
	RefundsSec           int `mapstructure:"refunds_sec" yaml:"refunds_sec" json:"refunds_sec" validate:"min=5"`
	ReviewsSec           int `mapstructure:"reviews_sec" yaml:"reviews_sec" json:"reviews_sec" validate:"min=5"`
	BankVerificationsSec int `mapstructure:"bank_verifications_sec" yaml:"bank_verifications_sec" json:"bank_verifications_sec" validate:"min=5"`

	// StaggerMs offsets the first run of each queue so they never fire together.
	StaggerMs int `mapstructure:"stagger_ms" yaml:"stagger_ms" json:"stagger_ms" validate:"min=0"`
}

// Interval returns the polling interval configured for d.
func (p PollingConfig) Interval(d Domain) time.Duration {
	var sec int
	switch d {
	case DomainSales:
		sec = p.SalesSec
	case DomainRefunds:
		sec = p.RefundsSec
	case DomainReviews:
		sec = p.ReviewsSec
	case DomainBankVerifications:
		sec = p.BankVerificationsSec
	}
	if sec <= 0 {
		sec = 120
	}
	return time.Duration(sec) * time.Second
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme" json:"theme"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API          APIConfig      `mapstructure:"api" yaml:"api" json:"api"`
	Realtime     RealtimeConfig `mapstructure:"realtime" yaml:"realtime" json:"realtime"`
	Polling      PollingConfig  `mapstructure:"polling" yaml:"polling" json:"polling"`
	Display      DisplayConfig  `mapstructure:"display" yaml:"display" json:"display"`
	DatabasePath string         `mapstructure:"database_path" yaml:"database_path" json:"database_path" validate:"required"`
	LogPath      string         `mapstructure:"log_path" yaml:"log_path" json:"log_path"`
}

// DefaultConfigDir returns ~/.config/coursedesk.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "coursedesk")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/coursedesk/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultAppConfig returns a configuration pointing at a local backend.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			BaseURL:    "http://localhost:3000/api",
			SocketURL:  "ws://localhost:3000/socket",
			TimeoutSec: 30,
		},
		Realtime: RealtimeConfig{
			MaxReconnectAttempts: 5,
			ReconnectDelayMs:     1000,
			ReconnectDelayMaxMs:  5000,
		},
		Polling: PollingConfig{
			SalesSec:             30,
			RefundsSec:           60,
			ReviewsSec:           180,
			BankVerificationsSec: 120,
			StaggerMs:            2000,
		},
		Display: DisplayConfig{
			Theme: "default",
		},
		DatabasePath: filepath.Join(DefaultConfigDir(), "coursedesk.db"),
		LogPath:      filepath.Join(DefaultConfigDir(), "coursedesk.log"),
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.socket_url", d.API.SocketURL)
	v.SetDefault("api.timeout_sec", d.API.TimeoutSec)
	v.SetDefault("realtime.max_reconnect_attempts", d.Realtime.MaxReconnectAttempts)
	v.SetDefault("realtime.reconnect_delay_ms", d.Realtime.ReconnectDelayMs)
	v.SetDefault("realtime.reconnect_delay_max_ms", d.Realtime.ReconnectDelayMaxMs)
	v.SetDefault("polling.sales_sec", d.Polling.SalesSec)
	v.SetDefault("polling.refunds_sec", d.Polling.RefundsSec)
	v.SetDefault("polling.reviews_sec", d.Polling.ReviewsSec)
	v.SetDefault("polling.bank_verifications_sec", d.Polling.BankVerificationsSec)
	v.SetDefault("polling.stagger_ms", d.Polling.StaggerMs)
	v.SetDefault("display.theme", d.Display.Theme)
	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("log_path", d.LogPath)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// COURSEDESK_* environment variables override file values (for example
// COURSEDESK_API_BASE_URL). A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("COURSEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api", cfg.API)
	v.Set("realtime", cfg.Realtime)
	v.Set("polling", cfg.Polling)
	v.Set("display", cfg.Display)
	v.Set("database_path", cfg.DatabasePath)
	v.Set("log_path", cfg.LogPath)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
