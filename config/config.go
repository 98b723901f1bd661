// Package config loads the YAML runtime configuration for the procurement
// service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for the procurement service.
type Config struct {
	Service      string           `yaml:"service"`
	Environment  string           `yaml:"environment"`
	DatabasePath string           `yaml:"database"`
	Run          RunConfig        `yaml:"run"`
	Commit       CommitConfig     `yaml:"commit"`
	Providers    []ProviderConfig `yaml:"providers"`
}

// RunConfig carries the per-run defaults.
type RunConfig struct {
	Budget         string   `yaml:"budget"`
	Token          string   `yaml:"token"`
	TTL            Duration `yaml:"ttl"`
	Threshold      float64  `yaml:"threshold"`
	UnitAmount     string   `yaml:"unit_amount"`
	DeadlineWindow Duration `yaml:"deadline_window"`
	PayPerCall     bool     `yaml:"pay_per_call"`
}

// CommitConfig tunes the commitment layer's polling loop.
type CommitConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	MaxAttempts  int      `yaml:"max_attempts"`
	VerifyBudget Duration `yaml:"verify_budget"`
}

// ProviderConfig describes one candidate provider.
type ProviderConfig struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Price    string `yaml:"price"`
	Category string `yaml:"category"`
}

// Load reads, parses and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service == "" {
		c.Service = "agorad"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "agorad.db"
	}
	if c.Run.Token == "" {
		c.Run.Token = "USDC"
	}
	if c.Run.Threshold == 0 {
		c.Run.Threshold = 5
	}
	if c.Run.TTL.Duration == 0 {
		c.Run.TTL.Duration = 10 * time.Minute
	}
	if c.Run.DeadlineWindow.Duration == 0 {
		c.Run.DeadlineWindow.Duration = 5 * time.Minute
	}
	if c.Commit.PollInterval.Duration == 0 {
		c.Commit.PollInterval.Duration = time.Second
	}
	if c.Commit.MaxAttempts == 0 {
		c.Commit.MaxAttempts = 15
	}
	if c.Commit.VerifyBudget.Duration == 0 {
		c.Commit.VerifyBudget.Duration = 20 * time.Second
	}
}

// Validate rejects configurations the orchestrator could not run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Run.Budget) == "" {
		return fmt.Errorf("config: run budget required")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider required")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for i, provider := range c.Providers {
		name := strings.TrimSpace(provider.Name)
		if name == "" {
			return fmt.Errorf("config: provider %d missing name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("config: duplicate provider %q", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(provider.Endpoint) == "" {
			return fmt.Errorf("config: provider %q missing endpoint", name)
		}
	}
	if c.Run.Threshold < 0 || c.Run.Threshold > 10 {
		return fmt.Errorf("config: threshold must be within [0,10]")
	}
	return nil
}
