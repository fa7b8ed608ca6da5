package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type DatabaseConfig struct {
	Path string `json:"path"`
}

type ServerConfig struct {
	HTTPPort       int      `json:"http_port"`
	AuthToken      string   `json:"auth_token"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// RemoteConfig governs calls to registered gateways.
type RemoteConfig struct {
	RequestTimeoutSec int    `json:"request_timeout_seconds"`
	MaxBodyBytes      int64  `json:"max_body_bytes"`
	MinVersion        string `json:"min_version"`
}

type SyncConfig struct {
	HistoryLimit int    `json:"history_limit"`
	AutoSyncCron string `json:"auto_sync_cron"`
}

type RegistryConfig struct {
	CacheSize int `json:"cache_size"`
}

type DiscordConfig struct {
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type NotifyConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Remote   RemoteConfig   `json:"remote"`
	Sync     SyncConfig     `json:"sync"`
	Registry RegistryConfig `json:"registry"`
	Notify   NotifyConfig   `json:"notify"`
	Logging  LoggingConfig  `json:"logging"`
}

const (
	defaultHTTPPort          = 3001
	defaultDatabasePath      = "./data/dashboard.db"
	defaultRequestTimeoutSec = 15
	defaultMaxBodyBytes      = 8 << 20
	defaultHistoryLimit      = 100
	defaultRegistryCacheSize = 256
	defaultLogLevel          = "info"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "CLAWDASH_"

// Load reads a .env file if present, then the JSON config at path, then
// applies environment overrides. An empty path means defaults plus env only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	overrides := map[string]*string{
		EnvPrefix + "AUTH_TOKEN":         &cfg.Server.AuthToken,
		EnvPrefix + "DB_PATH":            &cfg.Database.Path,
		EnvPrefix + "LOG_LEVEL":          &cfg.Logging.Level,
		EnvPrefix + "AUTO_SYNC_CRON":     &cfg.Sync.AutoSyncCron,
		EnvPrefix + "DISCORD_BOT_TOKEN":  &cfg.Notify.Discord.BotToken,
		EnvPrefix + "DISCORD_CHANNEL_ID": &cfg.Notify.Discord.ChannelID,
	}
	for key, dst := range overrides {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	// PORT is honoured for compatibility with plain container platforms;
	// the prefixed variable wins when both are set.
	for _, key := range []string{"PORT", EnvPrefix + "HTTP_PORT"} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("validation error: %s must be an integer, got %q", key, v)
		}
		cfg.Server.HTTPPort = port
	}

	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = defaultHTTPPort
	}
	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("validation error: server.http_port must be between 1 and 65535, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.AuthToken == "" {
		return fmt.Errorf("validation error: server.auth_token is required")
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDatabasePath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}

	if cfg.Remote.RequestTimeoutSec <= 0 {
		cfg.Remote.RequestTimeoutSec = defaultRequestTimeoutSec
	}
	if cfg.Remote.MaxBodyBytes <= 0 {
		cfg.Remote.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Remote.MinVersion != "" {
		if _, err := semver.NewConstraint(cfg.Remote.MinVersion); err != nil {
			return fmt.Errorf("validation error: remote.min_version %q is not a valid constraint: %w", cfg.Remote.MinVersion, err)
		}
	}

	if cfg.Sync.HistoryLimit <= 0 {
		cfg.Sync.HistoryLimit = defaultHistoryLimit
	}
	cfg.Sync.AutoSyncCron = strings.TrimSpace(cfg.Sync.AutoSyncCron)
	if cfg.Sync.AutoSyncCron != "" {
		if _, err := cron.ParseStandard(cfg.Sync.AutoSyncCron); err != nil {
			return fmt.Errorf("validation error: sync.auto_sync_cron %q: %w", cfg.Sync.AutoSyncCron, err)
		}
	}

	if cfg.Registry.CacheSize <= 0 {
		cfg.Registry.CacheSize = defaultRegistryCacheSize
	}

	discord := cfg.Notify.Discord
	if (discord.BotToken == "") != (discord.ChannelID == "") {
		return fmt.Errorf("validation error: notify.discord.bot_token and notify.discord.channel_id must be set together")
	}

	return nil
}
