package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel          = "gemini-2.0-flash"
	DefaultMaxTokens      = 1024
	DefaultTimeoutSeconds = 20
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 18650
	DefaultDeviceID       = "handwashpi"
	DefaultWindowSeconds  = 2
	DefaultTrendLength    = 5
	DefaultFinalizeAfter  = 10
	DefaultPruneAfterDays = 30
	DefaultPruneAt        = "03:00"
)

type Config struct {
	Server      ServerConfig      `json:"server"`
	Store       StoreConfig       `json:"store"`
	Insight     InsightConfig     `json:"insight"`
	Monitor     MonitorConfig     `json:"monitor"`
	Notify      NotifyConfig      `json:"notify"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type InsightConfig struct {
	Provider       ProviderConfig `json:"provider"`
	Model          string         `json:"model,omitempty"`
	MaxTokens      int            `json:"maxTokens,omitempty"`
	TimeoutSeconds int            `json:"timeoutSeconds,omitempty"`
}

type MonitorConfig struct {
	DeviceID      string `json:"deviceId,omitempty"`
	WindowSeconds int    `json:"windowSeconds,omitempty"`
	TrendLength   int    `json:"trendLength,omitempty"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chatId,omitempty"`
	Proxy   string `json:"proxy,omitempty"`
}

type MaintenanceConfig struct {
	FinalizeAfterMinutes int    `json:"finalizeAfterMinutes,omitempty"`
	PruneAfterDays       int    `json:"pruneAfterDays,omitempty"`
	PruneAt              string `json:"pruneAt,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Store: StoreConfig{},
		Insight: InsightConfig{
			Model:          DefaultModel,
			MaxTokens:      DefaultMaxTokens,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		Monitor: MonitorConfig{
			DeviceID:      DefaultDeviceID,
			WindowSeconds: DefaultWindowSeconds,
			TrendLength:   DefaultTrendLength,
		},
		Maintenance: MaintenanceConfig{
			FinalizeAfterMinutes: DefaultFinalizeAfter,
			PruneAfterDays:       DefaultPruneAfterDays,
			PruneAt:              DefaultPruneAt,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".engagemint")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("ENGAGEMINT_API_KEY"); key != "" {
		cfg.Insight.Provider.APIKey = key
	}
	if url := os.Getenv("ENGAGEMINT_BASE_URL"); url != "" {
		cfg.Insight.Provider.BaseURL = url
	}
	if model := os.Getenv("ENGAGEMINT_MODEL"); model != "" {
		cfg.Insight.Model = model
	}
	if dbPath := os.Getenv("ENGAGEMINT_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if host := os.Getenv("ENGAGEMINT_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("ENGAGEMINT_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if token := os.Getenv("ENGAGEMINT_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.Telegram.Token = token
	}
	if chatID := os.Getenv("ENGAGEMINT_TELEGRAM_CHAT_ID"); chatID != "" {
		if parsed, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = parsed
		}
	}
	if device := os.Getenv("ENGAGEMINT_DEVICE_ID"); device != "" {
		cfg.Monitor.DeviceID = device
	}

	if cfg.Insight.Model == "" {
		cfg.Insight.Model = DefaultModel
	}
	if cfg.Insight.MaxTokens <= 0 {
		cfg.Insight.MaxTokens = DefaultMaxTokens
	}
	if cfg.Insight.TimeoutSeconds <= 0 {
		cfg.Insight.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.Monitor.WindowSeconds <= 0 {
		cfg.Monitor.WindowSeconds = DefaultWindowSeconds
	}
	if cfg.Monitor.TrendLength <= 0 {
		cfg.Monitor.TrendLength = DefaultTrendLength
	}
	if cfg.Maintenance.FinalizeAfterMinutes <= 0 {
		cfg.Maintenance.FinalizeAfterMinutes = DefaultFinalizeAfter
	}
	if cfg.Maintenance.PruneAfterDays <= 0 {
		cfg.Maintenance.PruneAfterDays = DefaultPruneAfterDays
	}
	if cfg.Maintenance.PruneAt == "" {
		cfg.Maintenance.PruneAt = DefaultPruneAt
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
