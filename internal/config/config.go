// Package config handles loading and managing msgdb configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"

	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/view"
)

// Config represents the msgdb configuration.
type Config struct {
	Data        DataConfig        `toml:"data"`
	Commit      CommitConfig      `toml:"commit"`
	Load        LoadConfig        `toml:"load"`
	View        ViewConfig        `toml:"view"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Server      ServerConfig      `toml:"server"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// CommitConfig controls how changes are flushed to disk.
type CommitConfig struct {
	DelayMs      int `toml:"delay_ms"`       // Debounce before a requested commit runs
	MaxAttempts  int `toml:"max_attempts"`   // 0 retries forever
	RetryDelayMs int `toml:"retry_delay_ms"` // Delay between failed attempts; 0 uses delay_ms
}

// LoadConfig controls startup loading of the message store.
type LoadConfig struct {
	BlockSize int `toml:"block_size"`
}

// ViewConfig tunes views and the view cache.
type ViewConfig struct {
	ThrottleLimit int `toml:"throttle_limit"`
	ThrottleBatch int `toml:"throttle_batch"`
	ThrottleQueue int `toml:"throttle_queue"`
	SnippetLength int `toml:"snippet_length"`
	CacheSize     int `toml:"cache_size"`
}

// MaintenanceConfig schedules background maintenance.
type MaintenanceConfig struct {
	RecoverSchedule    string `toml:"recover_schedule"`     // Cron expression for recovery passes
	PurgeSchedule      string `toml:"purge_schedule"`       // Cron expression for trash purges
	TrashRetentionDays int    `toml:"trash_retention_days"` // Trash older than this is purged
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort         int    `toml:"api_port"`          // HTTP server port (default: 8080)
	BindAddr        string `toml:"bind_addr"`         // Bind address (default: 127.0.0.1)
	APIKey          string `toml:"api_key"`           // API authentication key
	RateLimitPerSec int    `toml:"rate_limit_per_sec"` // Requests per second per client

	CORSOrigins     []string `toml:"cors_origins"`     // Allowed origins; empty disables CORS
	CORSCredentials bool     `toml:"cors_credentials"` // Allow credentialed requests
	CORSMaxAge      int      `toml:"cors_max_age"`     // Preflight cache duration in seconds
}

// IsLoopback reports whether the server binds to a loopback address only.
func (s ServerConfig) IsLoopback() bool {
	switch s.BindAddr {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	ip := net.ParseIP(s.BindAddr)
	return ip != nil && ip.IsLoopback()
}

// ValidateSecure refuses to expose the API beyond loopback without a key.
func (s ServerConfig) ValidateSecure() error {
	if !s.IsLoopback() && s.APIKey == "" {
		return fmt.Errorf("server: bind_addr %q is not loopback; set api_key to expose the API", s.BindAddr)
	}
	return nil
}

// DefaultHome returns the default msgdb home directory.
// Respects MSGDB_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MSGDB_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".msgdb"
	}
	return filepath.Join(home, ".msgdb")
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	homeDir := DefaultHome()
	return &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Commit: CommitConfig{
			DelayMs: 5000,
		},
		Load: LoadConfig{
			BlockSize: 500,
		},
		View: ViewConfig{
			ThrottleLimit: 50,
			ThrottleBatch: 20,
			ThrottleQueue: 100,
			SnippetLength: 120,
			CacheSize:     8,
		},
		Maintenance: MaintenanceConfig{
			RecoverSchedule:    "0 3 * * *",
			PurgeSchedule:      "30 3 * * *",
			TrashRetentionDays: 30,
		},
		Server: ServerConfig{
			APIPort:         8080,
			BindAddr:        "127.0.0.1",
			RateLimitPerSec: 10,
		},
	}
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.msgdb/config.toml),
// which is optional. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.HomeDir, "config.toml")
	}

	if _, err := os.Stat(expandPath(path)); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return cfg, nil
	}
	path = expandPath(path)

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Expand ~ in paths
	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.Commit.DelayMs < 0 || c.Commit.RetryDelayMs < 0 || c.Commit.MaxAttempts < 0 {
		return fmt.Errorf("commit: negative values are not allowed")
	}
	if c.Load.BlockSize <= 0 {
		return fmt.Errorf("load: block_size must be positive, got %d", c.Load.BlockSize)
	}
	if c.View.CacheSize < 0 {
		return fmt.Errorf("view: cache_size must not be negative, got %d", c.View.CacheSize)
	}
	for name, spec := range map[string]string{
		"recover_schedule": c.Maintenance.RecoverSchedule,
		"purge_schedule":   c.Maintenance.PurgeSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("maintenance: invalid %s %q: %w", name, spec, err)
		}
	}
	if c.Server.APIPort < 0 || c.Server.APIPort > 65535 {
		return fmt.Errorf("server: invalid api_port %d", c.Server.APIPort)
	}
	return nil
}

// DatabaseDir returns the directory holding the message, index and
// lexicon files.
func (c *Config) DatabaseDir() string {
	return c.Data.DataDir
}

// MessagesPath returns the path to the SQLite message store.
func (c *Config) MessagesPath() string {
	return filepath.Join(c.Data.DataDir, msgdb.MessagesFile)
}

// DatabaseOptions converts the commit and load settings into engine
// options.
func (c *Config) DatabaseOptions() *msgdb.Options {
	opts := msgdb.DefaultOptions()
	opts.CommitDelay = time.Duration(c.Commit.DelayMs) * time.Millisecond
	opts.Retry = msgdb.RetryPolicy{
		MaxAttempts: c.Commit.MaxAttempts,
		Delay:       time.Duration(c.Commit.RetryDelayMs) * time.Millisecond,
	}
	opts.LoadBlockSize = c.Load.BlockSize
	return opts
}

// ViewOptions converts the view settings into view options. Zero values
// keep the defaults.
func (c *Config) ViewOptions() *view.Options {
	opts := view.DefaultOptions()
	if c.View.ThrottleLimit > 0 {
		opts.FetchLimit = c.View.ThrottleLimit
	}
	if c.View.ThrottleBatch > 0 {
		opts.FetchBatch = c.View.ThrottleBatch
	}
	if c.View.ThrottleQueue > 0 {
		opts.FetchQueue = c.View.ThrottleQueue
	}
	if c.View.SnippetLength > 0 {
		opts.SnippetLength = c.View.SnippetLength
	}
	return opts
}

// TrashRetention returns how long trashed messages are kept.
func (c *Config) TrashRetention() time.Duration {
	return time.Duration(c.Maintenance.TrashRetentionDays) * 24 * time.Hour
}

// ListenAddr returns the host:port the API server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.BindAddr, strconv.Itoa(c.Server.APIPort))
}

// expandPath expands a leading ~ or ~/ to the user's home directory.
// ~user forms are left alone.
func expandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
