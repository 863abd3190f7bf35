package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadEmptyPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MSGDB_HOME", tmpDir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}

	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.Data.DataDir != tmpDir {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, tmpDir)
	}
	if cfg.Commit.DelayMs != 5000 {
		t.Errorf("Commit.DelayMs = %d, want 5000", cfg.Commit.DelayMs)
	}
	if cfg.Load.BlockSize != 500 {
		t.Errorf("Load.BlockSize = %d, want 500", cfg.Load.BlockSize)
	}
	if cfg.View.CacheSize != 8 {
		t.Errorf("View.CacheSize = %d, want 8", cfg.View.CacheSize)
	}

	wantDB := filepath.Join(tmpDir, "messages.db")
	if cfg.MessagesPath() != wantDB {
		t.Errorf("MessagesPath() = %q, want %q", cfg.MessagesPath(), wantDB)
	}
}

func TestServerConfigDefaults(t *testing.T) {
	t.Setenv("MSGDB_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.APIPort != 8080 {
		t.Errorf("Server.APIPort = %d, want 8080", cfg.Server.APIPort)
	}
	if cfg.Server.APIKey != "" {
		t.Errorf("Server.APIKey = %q, want empty", cfg.Server.APIKey)
	}
	if got := cfg.ListenAddr(); got != "127.0.0.1:8080" {
		t.Errorf("ListenAddr() = %q, want 127.0.0.1:8080", got)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MSGDB_HOME", tmpDir)

	writeConfig(t, tmpDir, `
[data]
data_dir = "~/custom/data"

[commit]
delay_ms = 250
max_attempts = 3
retry_delay_ms = 1000

[load]
block_size = 64

[view]
throttle_limit = 10
cache_size = 2

[maintenance]
recover_schedule = "*/15 * * * *"
purge_schedule = ""
trash_retention_days = 7

[server]
api_port = 9090
api_key = "test-secret-key"
`)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}
	if want := filepath.Join(home, "custom/data"); cfg.Data.DataDir != want {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, want)
	}

	opts := cfg.DatabaseOptions()
	if opts.CommitDelay != 250*time.Millisecond {
		t.Errorf("CommitDelay = %v, want 250ms", opts.CommitDelay)
	}
	if opts.Retry.MaxAttempts != 3 || opts.Retry.Delay != time.Second {
		t.Errorf("Retry = %+v, want 3 attempts 1s apart", opts.Retry)
	}
	if opts.LoadBlockSize != 64 {
		t.Errorf("LoadBlockSize = %d, want 64", opts.LoadBlockSize)
	}

	vopts := cfg.ViewOptions()
	if vopts.FetchLimit != 10 {
		t.Errorf("FetchLimit = %d, want 10", vopts.FetchLimit)
	}
	if vopts.FetchBatch != 20 {
		t.Errorf("FetchBatch = %d, want default 20", vopts.FetchBatch)
	}
	if cfg.View.CacheSize != 2 {
		t.Errorf("View.CacheSize = %d, want 2", cfg.View.CacheSize)
	}

	if cfg.Maintenance.RecoverSchedule != "*/15 * * * *" {
		t.Errorf("RecoverSchedule = %q", cfg.Maintenance.RecoverSchedule)
	}
	if cfg.Maintenance.PurgeSchedule != "" {
		t.Errorf("PurgeSchedule = %q, want empty", cfg.Maintenance.PurgeSchedule)
	}
	if cfg.TrashRetention() != 7*24*time.Hour {
		t.Errorf("TrashRetention() = %v, want 168h", cfg.TrashRetention())
	}

	if cfg.Server.APIPort != 9090 {
		t.Errorf("Server.APIPort = %d, want 9090", cfg.Server.APIPort)
	}
	if cfg.Server.APIKey != "test-secret-key" {
		t.Errorf("Server.APIKey = %q, want test-secret-key", cfg.Server.APIKey)
	}
}

func TestLoadExplicitPathNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml")
	if err == nil {
		t.Fatal("Load with explicit nonexistent path should return error")
	}
	if got := err.Error(); !strings.Contains(got, "config file not found") {
		t.Errorf("error = %q, want it to contain %q", got, "config file not found")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad toml", "[data\n", "decode config"},
		{"bad cron", "[maintenance]\nrecover_schedule = \"every day\"\n", "recover_schedule"},
		{"zero block size", "[load]\nblock_size = 0\n", "block_size"},
		{"negative delay", "[commit]\ndelay_ms = -1\n", "commit"},
		{"bad port", "[server]\napi_port = 70000\n", "api_port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultHomeEnv(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}
	t.Setenv("MSGDB_HOME", "~/mail")
	if got, want := DefaultHome(), filepath.Join(home, "mail"); got != want {
		t.Errorf("DefaultHome() = %q, want %q", got, want)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
		unixOnly bool // skip on Windows (uses Unix-style absolute paths)
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "just tilde", input: "~", expected: home},
		{name: "tilde with slash and path", input: "~/foo", expected: filepath.Join(home, "foo")},
		{name: "tilde with trailing slash only", input: "~/", expected: home},
		{name: "tilde user notation not expanded", input: "~user", expected: "~user"},
		{name: "tilde with double slash", input: "~//foo", expected: filepath.Join(home, "foo")},
		{name: "absolute path unchanged", input: "/var/log/test", expected: "/var/log/test", unixOnly: true},
		{name: "relative path unchanged", input: "relative/path", expected: "relative/path"},
		{name: "tilde in middle not expanded", input: "/home/~user/foo", expected: "/home/~user/foo", unixOnly: true},
		{name: "nested path after tilde", input: "~/foo/bar/baz", expected: filepath.Join(home, "foo/bar/baz")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.unixOnly && runtime.GOOS == "windows" {
				t.Skip("skipping Unix-specific path test on Windows")
			}
			got := expandPath(tt.input)
			if got != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidateSecure(t *testing.T) {
	tests := []struct {
		bindAddr string
		apiKey   string
		wantErr  bool
	}{
		{"127.0.0.1", "", false},
		{"localhost", "", false},
		{"::1", "", false},
		{"", "", false},
		{"0.0.0.0", "", true},
		{"0.0.0.0", "secret", false},
		{"192.168.1.10", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.bindAddr+"/"+tt.apiKey, func(t *testing.T) {
			s := ServerConfig{BindAddr: tt.bindAddr, APIKey: tt.apiKey}
			if err := s.ValidateSecure(); (err != nil) != tt.wantErr {
				t.Errorf("ValidateSecure() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
