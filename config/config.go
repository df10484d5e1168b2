// Package config handles pagesentry configuration from YAML files.
// Secrets (inference API key, HTTP auth credential) are never stored in
// the file; they are read from the environment at load time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level pagesentry configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Pages     []PageConfig    `yaml:"pages"`
	Observer  ObserverConfig  `yaml:"observer"`
	History   HistoryConfig   `yaml:"history"`
	Inference InferenceConfig `yaml:"inference"`
	HTTP      HTTPConfig      `yaml:"http"`
	Bus       BusConfig       `yaml:"bus"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote   string `yaml:"remote"`  // ws:// debug URL; empty launches a local Chrome
	Stealth  string `yaml:"stealth"` // headless | headful
	UserData string `yaml:"user_data"`
}

// PageConfig defines a page to observe.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// ObserverConfig controls scan pacing.
type ObserverConfig struct {
	ScanThrottle  time.Duration `yaml:"scan_throttle"`  // min interval between full scans
	MutationDelay time.Duration `yaml:"mutation_delay"` // settle delay after form-bearing insertions
}

// HistoryConfig controls alert persistence.
type HistoryConfig struct {
	Path     string `yaml:"path"`
	Capacity int    `yaml:"capacity"`
}

// InferenceConfig points at an OpenAI-compatible completion endpoint.
// APIKeyEnv names the environment variable holding the key.
type InferenceConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Timeout     time.Duration `yaml:"timeout"`
	ReinitGrace time.Duration `yaml:"reinit_grace"` // wait after reinit before failing a chat

	// APIKey is resolved from APIKeyEnv at load time. Never serialised.
	APIKey string `yaml:"-"`
}

// HTTPConfig controls the presentation HTTP server. BasicAuthHashEnv
// names the environment variable holding a bcrypt hash; auth is disabled
// when it is unset.
type HTTPConfig struct {
	Addr             string `yaml:"addr"`
	BasicAuthUser    string `yaml:"basic_auth_user"`
	BasicAuthHashEnv string `yaml:"basic_auth_hash_env"`

	BasicAuthHash string `yaml:"-"`
}

// BusConfig sizes the inter-component buffers.
type BusConfig struct {
	Capacity int `yaml:"capacity"`
}

// LoadFile reads a YAML configuration file and resolves env secrets.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.resolveSecrets()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.resolveSecrets()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Observer.ScanThrottle <= 0 {
		c.Observer.ScanThrottle = time.Second
	}
	if c.Observer.MutationDelay <= 0 {
		c.Observer.MutationDelay = 50 * time.Millisecond
	}
	if c.History.Path == "" {
		c.History.Path = "pagesentry.db"
	}
	if c.History.Capacity <= 0 {
		c.History.Capacity = 50
	}
	if c.Inference.BaseURL == "" {
		c.Inference.BaseURL = "http://localhost:8000/v1"
	}
	if c.Inference.Model == "" {
		c.Inference.Model = "sentinel-7b"
	}
	if c.Inference.APIKeyEnv == "" {
		c.Inference.APIKeyEnv = "PAGESENTRY_API_KEY"
	}
	if c.Inference.Timeout <= 0 {
		c.Inference.Timeout = 60 * time.Second
	}
	if c.Inference.ReinitGrace <= 0 {
		c.Inference.ReinitGrace = time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8470"
	}
	if c.HTTP.BasicAuthHashEnv == "" {
		c.HTTP.BasicAuthHashEnv = "PAGESENTRY_AUTH_HASH"
	}
	if c.Bus.Capacity <= 0 {
		c.Bus.Capacity = 256
	}
}

func (c *Config) resolveSecrets() {
	c.Inference.APIKey = os.Getenv(c.Inference.APIKeyEnv)
	c.HTTP.BasicAuthHash = os.Getenv(c.HTTP.BasicAuthHashEnv)
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Pages))
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: pages[%d]: url is required", i)
		}
		if p.ID == "" {
			return fmt.Errorf("config: pages[%d]: id is required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("config: duplicate page id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	if c.Browser.Stealth != "headless" && c.Browser.Stealth != "headful" {
		return fmt.Errorf("config: browser.stealth must be headless or headful, got %q", c.Browser.Stealth)
	}
	return nil
}
