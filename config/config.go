// CLAUDE:SUMMARY Defines greffe config structs and parses YAML configuration files with defaults.
// Package config handles greffe configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level greffe configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	Portal    PortalConfig    `yaml:"portal"`
	Browser   BrowserConfig   `yaml:"browser"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	History   HistoryConfig   `yaml:"history"`
}

// PortalConfig locates the court portal.
type PortalConfig struct {
	SearchURL     string        `yaml:"search_url"`
	DocumentBase  string        `yaml:"document_base"`
	NavTimeout    time.Duration `yaml:"nav_timeout"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"`
	MemoryLimit     int64         `yaml:"memory_limit"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`
}

// RetrievalConfig holds the orchestrator's retry and pool policy.
type RetrievalConfig struct {
	CaptchaRetries      int           `yaml:"captcha_retries"`
	NavRetries          int           `yaml:"nav_retries"`
	NavBackoff          time.Duration `yaml:"nav_backoff"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	MaxSessions         int64         `yaml:"max_sessions"`
}

// HistoryConfig locates the query-history database.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8089"
	}
	if c.Portal.SearchURL == "" {
		c.Portal.SearchURL = "https://delhihighcourt.nic.in/app/get-case-type-status"
	}
	if c.Portal.DocumentBase == "" {
		c.Portal.DocumentBase = "https://delhihighcourt.nic.in/app/"
	}
	if c.Portal.NavTimeout <= 0 {
		c.Portal.NavTimeout = 30 * time.Second
	}
	if c.Portal.SubmitTimeout <= 0 {
		c.Portal.SubmitTimeout = 20 * time.Second
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Retrieval.CaptchaRetries <= 0 {
		c.Retrieval.CaptchaRetries = 3
	}
	if c.Retrieval.NavRetries <= 0 {
		c.Retrieval.NavRetries = 2
	}
	if c.Retrieval.NavBackoff <= 0 {
		c.Retrieval.NavBackoff = 2 * time.Second
	}
	if c.Retrieval.ConfidenceThreshold <= 0 {
		c.Retrieval.ConfidenceThreshold = 0.7
	}
	if c.Retrieval.MaxSessions <= 0 {
		c.Retrieval.MaxSessions = 2
	}
	if c.History.Path == "" {
		c.History.Path = "greffe.db"
	}
}
