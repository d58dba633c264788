package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Built-in defaults applied to fields the YAML leaves empty.
const (
	DefaultProvider     = "openai"
	DefaultModel        = "gpt-4"
	DefaultAPIKeyEnv    = "OPENAI_API_KEY"
	DefaultModelTimeout = "3m"
	DefaultMaxAttempts  = 3
	DefaultBackoff      = "2s"
	DefaultMaxBackoff   = "30s"
	DefaultRunTimeout   = "30m"
	DefaultCheckName    = "eslint"
	DefaultESLintCmd    = "npx --no-install eslint {{file}} --format=json"
)

// DefaultWeights is the severity → penalty table: warnings cost 0.01, errors 0.05.
func DefaultWeights() map[int]float64 {
	return map[int]float64{1: 0.01, 2: 0.05}
}

// Load reads and parses a pipeline configuration from the given YAML file path.
// After parsing, it applies defaults to everything the file does not set.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the built-in configuration used when no file is found.
func Default() *PipelineConfig {
	cfg := &PipelineConfig{}
	applyDefaults(cfg)
	return cfg
}

// LoadDefault searches for a config in standard locations and loads the first
// one found. Search order: ./forge.yaml, ~/.forge/config.yaml. When neither
// exists the built-in defaults are returned.
func LoadDefault() (*PipelineConfig, error) {
	candidates := []string{"forge.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".forge", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return Default(), nil
}

// applyDefaults fills unset fields and resolves every role's model settings
// from the pipeline-level model block.
func applyDefaults(cfg *PipelineConfig) {
	p := &cfg.Pipeline

	if p.Name == "" {
		p.Name = "forge"
	}
	if p.OutputDir == "" {
		p.OutputDir = "."
	}
	if p.RunTimeout == "" {
		p.RunTimeout = DefaultRunTimeout
	}

	m := &p.Model
	if m.Provider == "" {
		m.Provider = DefaultProvider
	}
	if m.Name == "" {
		m.Name = DefaultModel
	}
	if m.APIKeyEnv == "" && m.Provider == DefaultProvider {
		m.APIKeyEnv = DefaultAPIKeyEnv
	}
	if m.Timeout == "" {
		m.Timeout = DefaultModelTimeout
	}
	if m.MaxAttempts == 0 {
		m.MaxAttempts = DefaultMaxAttempts
	}
	if m.Backoff == "" {
		m.Backoff = DefaultBackoff
	}
	if m.MaxBackoff == "" {
		m.MaxBackoff = DefaultMaxBackoff
	}

	if p.Roles == nil {
		p.Roles = make(map[string]Role)
	}
	for _, name := range RoleNames {
		r := p.Roles[name]
		if r.Model == "" {
			r.Model = m.Name
		}
		if r.Temperature == nil {
			t := m.Temperature
			r.Temperature = &t
		}
		p.Roles[name] = r
	}

	if p.Checks == nil {
		p.Checks = make(map[string]Check)
	}
	if len(p.Scoring.Checks) == 0 {
		p.Scoring.Checks = []string{DefaultCheckName}
		if _, ok := p.Checks[DefaultCheckName]; !ok {
			p.Checks[DefaultCheckName] = Check{Command: DefaultESLintCmd, Parser: "eslint", Timeout: "2m"}
		}
	}
	if len(p.Scoring.Weights) == 0 {
		p.Scoring.Weights = DefaultWeights()
	}
	for name, c := range p.Checks {
		if c.Parser == "" {
			c.Parser = "generic"
		}
		p.Checks[name] = c
	}
}

// ParseDuration parses s, returning def when s is empty or invalid.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
