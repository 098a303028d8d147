// Package config loads wsproxy settings from a YAML file, the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v2"
)

// Config holds every runtime setting. It is read-only once the server starts.
type Config struct {
	Bind     string `yaml:"bind"`                   // Address the tunnel listens on
	Port     int    `yaml:"port"`                   // Port the tunnel listens on
	Pass     string `yaml:"passphrase"`             // Shared passphrase; empty disables authentication
	PassHash string `yaml:"passphrase_bcrypt"`      // bcrypt hash of the shared passphrase, alternative to Pass
	Target   string `yaml:"default_target"`         // host[:port] used when X-Real-Host is absent
	MaxPerIP int    `yaml:"max_connections_per_ip"` // Concurrent sessions per source IP, 0 = unlimited

	BufferSize    int           `yaml:"buffer_size"`    // Read size for handshake and relay
	PollInterval  time.Duration `yaml:"poll_interval"`  // Relay readiness poll interval
	IdleThreshold int           `yaml:"idle_threshold"` // Consecutive empty polls before a relay is dropped

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // Bound on reading the handshake, 0 = none
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`   // Bound on dialing the target, 0 = none

	ConnectRatePerIP float64 `yaml:"connect_rate_per_ip"` // New connections per second per IP, 0 = unlimited
	ConnectBurst     int     `yaml:"connect_burst"`       // Burst for ConnectRatePerIP

	LogFile         string        `yaml:"log_file"`         // Append-only log file, empty = stderr
	Debug           bool          `yaml:"debug"`            // Enable debug records
	MetricsAddr     string        `yaml:"metrics_addr"`     // Status/metrics listen address, empty = disabled
	MonitorInterval time.Duration `yaml:"monitor_interval"` // Monitor mode refresh interval
	MDNS            bool          `yaml:"mdns"`             // Announce the tunnel via mDNS

	TLS struct {
		Enable bool   `yaml:"enable"` // Also accept TLS-wrapped handshakes
		Port   int    `yaml:"port"`   // TLS listen port
		Cert   string `yaml:"cert"`   // Certificate file, generated when missing
		Key    string `yaml:"key"`    // Key file, generated when missing
	} `yaml:"tls"`

	Redis struct {
		Addr     string        `yaml:"addr"`     // Redis address, empty = no mirror
		Password string        `yaml:"password"` // Redis password
		DB       int           `yaml:"db"`       // Redis database
		Key      string        `yaml:"key"`      // Key the registry snapshot is stored under
		Interval time.Duration `yaml:"interval"` // Publish interval
	} `yaml:"redis"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() *Config {
	c := &Config{
		Bind:             "0.0.0.0",
		Port:             8880,
		Target:           "127.0.0.1:22",
		MaxPerIP:         3,
		BufferSize:       16384,
		PollInterval:     3 * time.Second,
		IdleThreshold:    60,
		HandshakeTimeout: 60 * time.Second,
		ConnectTimeout:   10 * time.Second,
		ConnectBurst:     5,
		LogFile:          "proxy.log",
		MonitorInterval:  10 * time.Second,
	}
	c.TLS.Port = 443
	c.TLS.Cert = "cert.pem"
	c.TLS.Key = "key.pem"
	c.Redis.Key = "wsproxy:registry"
	c.Redis.Interval = 5 * time.Second
	return c
}

// ReadConfig loads path over the defaults and applies environment overrides.
func ReadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

// Load resolves the config file location and reads it. An explicit path
// must exist; the implicit locations are optional.
func Load(explicit string) (*Config, error) {
	// Values from .env never override variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := explicit
	if path == "" {
		path = os.Getenv("WSPROXY_CONFIG")
	}
	if path == "" {
		if dir, err := GetConfigDir(); err == nil {
			candidate := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}
	return ReadConfig(path)
}

// ApplyEnv overrides fields from WSPROXY_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("WSPROXY_BIND"); v != "" {
		c.Bind = v
	}
	if v := os.Getenv("WSPROXY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WSPROXY_PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := os.LookupEnv("WSPROXY_PASS"); ok {
		c.Pass = v
	}
	if v := os.Getenv("WSPROXY_DEFAULT_TARGET"); v != "" {
		c.Target = v
	}
	if v := os.Getenv("WSPROXY_MAX_CONN_PER_IP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WSPROXY_MAX_CONN_PER_IP: %w", err)
		}
		c.MaxPerIP = n
	}
	if v := os.Getenv("WSPROXY_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("WSPROXY_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v, ok := os.LookupEnv("WSPROXY_LOG_FILE"); ok {
		c.LogFile = v
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.TLS.Enable && (c.TLS.Port < 1 || c.TLS.Port > 65535) {
		return fmt.Errorf("tls port %d out of range", c.TLS.Port)
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.IdleThreshold < 1 {
		return fmt.Errorf("idle_threshold must be at least 1, got %d", c.IdleThreshold)
	}
	if c.Target == "" {
		return errors.New("default_target must not be empty")
	}
	if c.Pass != "" && c.PassHash != "" {
		return errors.New("set either passphrase or passphrase_bcrypt, not both")
	}
	if c.PassHash != "" {
		if _, err := bcrypt.Cost([]byte(c.PassHash)); err != nil {
			return fmt.Errorf("passphrase_bcrypt: %w", err)
		}
	}
	return nil
}

// GetConfigDir returns the configuration directory for wsproxy.
// It follows platform-specific conventions:
// - Windows: %APPDATA%\wsproxy
// - Unix-like: $XDG_CONFIG_HOME/wsproxy or $HOME/.config/wsproxy
func GetConfigDir() (string, error) {
	var configDir string

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		configDir = filepath.Join(xdgConfig, "wsproxy")
	} else if appData := os.Getenv("APPDATA"); appData != "" {
		configDir = filepath.Join(appData, "wsproxy")
	} else if homeDir, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(homeDir, ".config", "wsproxy")
	} else {
		return "", err
	}
	return configDir, nil
}
