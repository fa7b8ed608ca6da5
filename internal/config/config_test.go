package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigExample(t *testing.T) {
	isolateEnv(t)
	examplePath := filepath.Join("..", "..", "clawdash.config.example.json")
	cfg, err := Load(examplePath)
	if err != nil {
		t.Fatalf("failed to load example config: %v", err)
	}
	if cfg.Server.HTTPPort != 3001 {
		t.Errorf("expected port 3001, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.AuthToken == "" {
		t.Error("expected auth_token to be set")
	}
	if cfg.Sync.AutoSyncCron != "@every 5m" {
		t.Errorf("expected auto sync cron, got %q", cfg.Sync.AutoSyncCron)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, `{"server": {"auth_token": "tok"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.HTTPPort != defaultHTTPPort {
		t.Errorf("expected default port %d, got %d", defaultHTTPPort, cfg.Server.HTTPPort)
	}
	if cfg.Database.Path != defaultDatabasePath {
		t.Errorf("expected default db path, got %q", cfg.Database.Path)
	}
	if cfg.Remote.RequestTimeoutSec != defaultRequestTimeoutSec {
		t.Errorf("expected default timeout, got %d", cfg.Remote.RequestTimeoutSec)
	}
	if cfg.Sync.HistoryLimit != defaultHistoryLimit {
		t.Errorf("expected default history limit, got %d", cfg.Sync.HistoryLimit)
	}
	if cfg.Registry.CacheSize != defaultRegistryCacheSize {
		t.Errorf("expected default cache size, got %d", cfg.Registry.CacheSize)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, `{"server": {"auth_token": "from-file", "http_port": 4000}}`)

	t.Setenv("CLAWDASH_AUTH_TOKEN", "from-env")
	t.Setenv("PORT", "5000")
	t.Setenv("CLAWDASH_DB_PATH", "/tmp/override.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.AuthToken != "from-env" {
		t.Errorf("expected env token, got %q", cfg.Server.AuthToken)
	}
	if cfg.Server.HTTPPort != 5000 {
		t.Errorf("expected env port 5000, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("expected env db path, got %q", cfg.Database.Path)
	}
}

func TestLoadPrefixedPortWins(t *testing.T) {
	path := writeConfig(t, `{"server": {"auth_token": "tok"}}`)
	t.Setenv("PORT", "5000")
	t.Setenv("CLAWDASH_HTTP_PORT", "6000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPPort != 6000 {
		t.Errorf("expected 6000, got %d", cfg.Server.HTTPPort)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing auth token",
			body:    `{}`,
			wantErr: "server.auth_token is required",
		},
		{
			name:    "port out of range",
			body:    `{"server": {"auth_token": "t", "http_port": 70000}}`,
			wantErr: "server.http_port must be between 1 and 65535",
		},
		{
			name:    "bad cron expression",
			body:    `{"server": {"auth_token": "t"}, "sync": {"auto_sync_cron": "every now and then"}}`,
			wantErr: "sync.auto_sync_cron",
		},
		{
			name:    "bad version constraint",
			body:    `{"server": {"auth_token": "t"}, "remote": {"min_version": "not-a-version"}}`,
			wantErr: "remote.min_version",
		},
		{
			name:    "discord half configured",
			body:    `{"server": {"auth_token": "t"}, "notify": {"discord": {"bot_token": "x"}}}`,
			wantErr: "notify.discord",
		},
	}

	isolateEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidEnvPort(t *testing.T) {
	path := writeConfig(t, `{"server": {"auth_token": "tok"}}`)
	t.Setenv("PORT", "eighty")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non-numeric PORT")
	}
}

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT",
		EnvPrefix + "HTTP_PORT",
		EnvPrefix + "AUTH_TOKEN",
		EnvPrefix + "DB_PATH",
		EnvPrefix + "LOG_LEVEL",
		EnvPrefix + "AUTO_SYNC_CRON",
		EnvPrefix + "DISCORD_BOT_TOKEN",
		EnvPrefix + "DISCORD_CHANNEL_ID",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
