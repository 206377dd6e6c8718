// Package config loads the loopcall configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr       = ":8080"
	DefaultServerURL        = "http://localhost:5000"
	DefaultHandshakeTimeout = 10 * time.Second
)

type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	// ServerURL is the base url of the call server REST API.
	ServerURL string `yaml:"serverUrl"`
	Channel   string `yaml:"channel"`
	// Desktop enables the retry-without-video fallback.
	Desktop  bool   `yaml:"desktop"`
	LogLevel string `yaml:"logLevel"`
	// SQLitePath stores conversation contexts on disk. Empty keeps them
	// in memory.
	SQLitePath       string        `yaml:"sqlitePath"`
	StaticDir        string        `yaml:"staticDir"`
	ICEServers       []string      `yaml:"iceServers"`
	PublishVideo     bool          `yaml:"publishVideo"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
}

func Default() *Config {
	return &Config{
		ListenAddr:       DefaultListenAddr,
		ServerURL:        DefaultServerURL,
		LogLevel:         "info",
		ICEServers:       []string{"stun:stun.l.google.com:19302"},
		PublishVideo:     true,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listenAddr is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("serverUrl %q is not an absolute url", c.ServerURL)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("logLevel: %w", err)
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshakeTimeout must be positive")
	}
	return nil
}

// Level returns the configured log level, info when unset.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
