package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feedsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadKeepsDefaults 验证文件里没写的字段保留默认值。
func TestLoadKeepsDefaults(t *testing.T) {
	t.Setenv("FEEDSYNC_TOKEN", "")
	path := writeConfig(t, `
remote:
  base_url: http://api.test
  token: tok
channel:
  url: ws://api.test/ws
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.BaseURL != "http://api.test" {
		t.Fatalf("unexpected base url %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Timeout != 15*time.Second {
		t.Fatalf("expected default timeout, got %v", cfg.Remote.Timeout)
	}
	if cfg.Channel.Transport != TransportWebSocket {
		t.Fatalf("expected websocket transport, got %q", cfg.Channel.Transport)
	}
	if cfg.Router.RecentCapacity != 10 {
		t.Fatalf("expected recent capacity 10, got %d", cfg.Router.RecentCapacity)
	}
	if cfg.Reconnect.Enabled {
		t.Fatalf("reconnect should be disabled by default")
	}
}

// TestLoadEnvOverridesToken 验证环境变量优先于配置文件。
func TestLoadEnvOverridesToken(t *testing.T) {
	t.Setenv("FEEDSYNC_TOKEN", "from-env")
	t.Setenv("FEEDSYNC_API_URL", "http://env.test")
	path := writeConfig(t, `
remote:
  base_url: http://file.test
  token: from-file
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.Token != "from-env" {
		t.Fatalf("expected env token, got %q", cfg.Remote.Token)
	}
	if cfg.Remote.BaseURL != "http://env.test" {
		t.Fatalf("expected env base url, got %q", cfg.Remote.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults with token", mutate: func(c *Config) { c.Remote.Token = "t" }},
		{name: "credentials instead of token", mutate: func(c *Config) {
			c.Remote.Email = "a@b.c"
			c.Remote.Password = "pw"
		}},
		{name: "no credentials starts logged out", mutate: func(c *Config) {}},
		{name: "email without password", mutate: func(c *Config) { c.Remote.Email = "a@b.c" }, wantErr: true},
		{name: "unknown transport", mutate: func(c *Config) {
			c.Remote.Token = "t"
			c.Channel.Transport = "carrier-pigeon"
		}, wantErr: true},
		{name: "kafka without brokers", mutate: func(c *Config) {
			c.Remote.Token = "t"
			c.Channel.Transport = TransportKafka
		}, wantErr: true},
		{name: "redis", mutate: func(c *Config) {
			c.Remote.Token = "t"
			c.Channel.Transport = TransportRedis
		}},
		{name: "reconnect without attempts", mutate: func(c *Config) {
			c.Remote.Token = "t"
			c.Reconnect.Enabled = true
			c.Reconnect.Attempts = 0
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
