package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config holds all tunable settings for the server. Values come from an
// optional YAML file overridden by TERMBRIDGE_* environment variables.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// AuthSecret enables token auth when non-empty
	AuthSecret string `yaml:"auth_secret"`

	// BufferCapacity bounds the per-session output replay window, in bytes
	BufferCapacity int `yaml:"buffer_capacity"`

	// CleanupInterval is how often the registry sweeps for stale sessions
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// StalenessThreshold is the minimum idle time after exit before eviction
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`

	// FlushInterval and FlushSize bound the persistence batcher
	FlushInterval time.Duration `yaml:"flush_interval"`
	FlushSize     int           `yaml:"flush_size"`

	// PingInterval and PongTimeout drive the streaming keepalive
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`

	// Reconnect backoff parameters for the client engine
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts  int           `yaml:"reconnect_max_attempts"`

	// StoreURL points at the external persistence collaborator; empty disables it
	StoreURL string `yaml:"store_url"`

	// TmuxPath is the tmux binary used for multiplexer-backed sessions
	TmuxPath string `yaml:"tmux_path"`

	// Shell is the default command when a spawn request omits one
	Shell string `yaml:"shell"`
}

// Default returns the reference configuration
func Default() *Config {
	return &Config{
		ListenAddr:            ":8080",
		BufferCapacity:        100000,
		CleanupInterval:       60 * time.Second,
		StalenessThreshold:    24 * time.Hour,
		FlushInterval:         2 * time.Second,
		FlushSize:             10000,
		PingInterval:          30 * time.Second,
		PongTimeout:           10 * time.Second,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     30 * time.Second,
		ReconnectMaxAttempts:  10,
		TmuxPath:              "tmux",
		Shell:                 defaultShell(),
	}
}

// fileConfig is the YAML shape. Durations are strings in Go duration syntax
// ("2s", "24h"); absent keys leave the defaults alone.
type fileConfig struct {
	ListenAddr            *string `yaml:"listen_addr"`
	AuthSecret            *string `yaml:"auth_secret"`
	BufferCapacity        *int    `yaml:"buffer_capacity"`
	CleanupInterval       *string `yaml:"cleanup_interval"`
	StalenessThreshold    *string `yaml:"staleness_threshold"`
	FlushInterval         *string `yaml:"flush_interval"`
	FlushSize             *int    `yaml:"flush_size"`
	PingInterval          *string `yaml:"ping_interval"`
	PongTimeout           *string `yaml:"pong_timeout"`
	ReconnectInitialDelay *string `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     *string `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts  *int    `yaml:"reconnect_max_attempts"`
	StoreURL              *string `yaml:"store_url"`
	TmuxPath              *string `yaml:"tmux_path"`
	Shell                 *string `yaml:"shell"`
}

// Load builds a Config from defaults, an optional YAML file, and environment
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		if err := cfg.applyFile(&fc); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(fc *fileConfig) error {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setDuration := func(dst *time.Duration, src *string, key string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, *src, err)
		}
		*dst = d
		return nil
	}

	setString(&c.ListenAddr, fc.ListenAddr)
	setString(&c.AuthSecret, fc.AuthSecret)
	setString(&c.StoreURL, fc.StoreURL)
	setString(&c.TmuxPath, fc.TmuxPath)
	setString(&c.Shell, fc.Shell)
	setInt(&c.BufferCapacity, fc.BufferCapacity)
	setInt(&c.FlushSize, fc.FlushSize)
	setInt(&c.ReconnectMaxAttempts, fc.ReconnectMaxAttempts)

	for _, d := range []struct {
		dst *time.Duration
		src *string
		key string
	}{
		{&c.CleanupInterval, fc.CleanupInterval, "cleanup_interval"},
		{&c.StalenessThreshold, fc.StalenessThreshold, "staleness_threshold"},
		{&c.FlushInterval, fc.FlushInterval, "flush_interval"},
		{&c.PingInterval, fc.PingInterval, "ping_interval"},
		{&c.PongTimeout, fc.PongTimeout, "pong_timeout"},
		{&c.ReconnectInitialDelay, fc.ReconnectInitialDelay, "reconnect_initial_delay"},
		{&c.ReconnectMaxDelay, fc.ReconnectMaxDelay, "reconnect_max_delay"},
	} {
		if err := setDuration(d.dst, d.src, d.key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TERMBRIDGE_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("TERMBRIDGE_AUTH_SECRET"); v != "" {
		c.AuthSecret = v
	}
	if v := os.Getenv("TERMBRIDGE_STORE_URL"); v != "" {
		c.StoreURL = v
	}
	if v := os.Getenv("TERMBRIDGE_TMUX"); v != "" {
		c.TmuxPath = v
	}
	if v := os.Getenv("TERMBRIDGE_SHELL"); v != "" {
		c.Shell = v
	}
	if v := os.Getenv("TERMBRIDGE_BUFFER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.BufferCapacity = n
		}
	}
	if v := os.Getenv("TERMBRIDGE_STALENESS"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.StalenessThreshold = d
		}
	}
}

func (c *Config) validate() error {
	if c.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be positive, got %d", c.BufferCapacity)
	}
	if c.FlushSize <= 0 {
		return fmt.Errorf("flush_size must be positive, got %d", c.FlushSize)
	}
	if c.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("reconnect_max_attempts must be positive, got %d", c.ReconnectMaxAttempts)
	}
	if c.PongTimeout >= c.PingInterval {
		return fmt.Errorf("pong_timeout (%s) must be shorter than ping_interval (%s)", c.PongTimeout, c.PingInterval)
	}
	return nil
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}
