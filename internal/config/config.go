package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models hireline.yml.
type Config struct {
	Service struct {
		ID            string  `yaml:"id"`
		DefaultBudget float64 `yaml:"default_budget"`
	} `yaml:"service"`
	Selection struct {
		// Epsilon keeps the efficiency formula defined when a worker
		// advertises a zero price. Treated as a tunable, not a contract.
		Epsilon           float64 `yaml:"epsilon"`
		ReputationReward  int     `yaml:"reputation_reward"`
		ReputationPenalty int     `yaml:"reputation_penalty"`
	} `yaml:"selection"`
	Healing struct {
		MaxRetries int `yaml:"max_retries"`
	} `yaml:"healing"`
	Planner struct {
		Rules           []PlannerRule `yaml:"rules"`
		DefaultCategory string        `yaml:"default_category"`
	} `yaml:"planner"`
	Collaborators struct {
		Anthropic struct {
			Model     string `yaml:"model"`
			MaxTokens int    `yaml:"max_tokens"`
		} `yaml:"anthropic"`
		Settle struct {
			TimeoutMS   int     `yaml:"timeout_ms"`
			LatencyMS   int     `yaml:"latency_ms"`
			FailureRate float64 `yaml:"failure_rate"`
		} `yaml:"settle"`
		Worker struct {
			TimeoutMS int `yaml:"timeout_ms"`
		} `yaml:"worker"`
	} `yaml:"collaborators"`
	Workers  []WorkerSeed    `yaml:"workers"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Auth     struct {
		JWTSecret                  string `yaml:"jwt_secret"`
		AllowLegacyRequesterHeader bool   `yaml:"allow_legacy_requester_header"`
	} `yaml:"auth"`
}

// PlannerRule scores task text for one capability category.
type PlannerRule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// WorkerSeed is a catalog entry loaded into the registry at boot.
type WorkerSeed struct {
	ID         string  `yaml:"id"`
	Name       string  `yaml:"name"`
	Category   string  `yaml:"category"`
	Endpoint   string  `yaml:"endpoint"`
	PriceUnits float64 `yaml:"price_units"`
	Reputation int     `yaml:"reputation"`
	Active     *bool   `yaml:"active"`
}

// WebhookConfig is one settlement fan-out target.
type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

const fileName = "hireline.yml"

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".hireline", fileName)
}

// Load reads and validates config from workspace, seeding defaults when
// the file is missing.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a config document.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config document into the workspace.
func Save(workspace string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(Path(workspace)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(Path(workspace), data, 0o644)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.ID == "" {
		return fmt.Errorf("config.service.id is required")
	}
	if c.Service.DefaultBudget < 0 {
		return fmt.Errorf("config.service.default_budget must not be negative")
	}
	if c.Selection.Epsilon <= 0 {
		return fmt.Errorf("config.selection.epsilon must be positive")
	}
	if c.Healing.MaxRetries < 0 {
		return fmt.Errorf("config.healing.max_retries must not be negative")
	}
	if c.Planner.DefaultCategory == "" {
		return fmt.Errorf("config.planner.default_category is required")
	}
	for i, rule := range c.Planner.Rules {
		if rule.Category == "" {
			return fmt.Errorf("planner rule %d has empty category", i)
		}
		for _, kw := range rule.Keywords {
			if kw == "" {
				return fmt.Errorf("planner rule %s has empty keyword", rule.Category)
			}
		}
	}
	seen := map[string]bool{}
	for _, w := range c.Workers {
		if w.ID == "" {
			return fmt.Errorf("worker catalog entry missing id")
		}
		if seen[w.ID] {
			return fmt.Errorf("duplicate worker id %s", w.ID)
		}
		seen[w.ID] = true
		if w.Category == "" {
			return fmt.Errorf("worker %s missing category", w.ID)
		}
		if w.PriceUnits < 0 {
			return fmt.Errorf("worker %s has negative price", w.ID)
		}
		if w.Reputation < 0 || w.Reputation > 100 {
			return fmt.Errorf("worker %s reputation out of range 0-100", w.ID)
		}
	}
	for _, h := range c.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("webhook missing url")
		}
	}
	return nil
}

// Default returns the built-in configuration, including a small sample
// worker catalog so a fresh workspace can serve tasks immediately.
func Default() *Config {
	cfg := &Config{}
	cfg.Service.ID = "hireline"
	cfg.Service.DefaultBudget = 0.05
	cfg.Selection.Epsilon = 0.001
	cfg.Selection.ReputationReward = 1
	cfg.Selection.ReputationPenalty = 2
	cfg.Healing.MaxRetries = 2
	cfg.Planner.DefaultCategory = "research"
	cfg.Planner.Rules = []PlannerRule{
		{Category: "data", Keywords: []string{"weather", "temperature", "forecast", "price of", "stock", "lookup"}},
		{Category: "math", Keywords: []string{"calculate", "compute", "sum", "multiply", "divide", "average", "percent"}},
		{Category: "text", Keywords: []string{"summarize", "summary", "rewrite", "translate", "shorten"}},
		{Category: "research", Keywords: []string{"research", "find out", "explain", "compare", "who", "what", "why"}},
	}
	cfg.Collaborators.Anthropic.MaxTokens = 1024
	cfg.Collaborators.Settle.TimeoutMS = 3000
	cfg.Collaborators.Worker.TimeoutMS = 10000
	active := true
	cfg.Workers = []WorkerSeed{
		{ID: "weather", Name: "Weather Oracle", Category: "data", PriceUnits: 0.001, Reputation: 90, Active: &active},
		{ID: "weather-backup", Name: "Weather Backup", Category: "data", PriceUnits: 0.002, Reputation: 70, Active: &active},
		{ID: "calc", Name: "Arithmetic Desk", Category: "math", PriceUnits: 0.001, Reputation: 85, Active: &active},
		{ID: "digest", Name: "Text Digest", Category: "text", PriceUnits: 0.003, Reputation: 80, Active: &active},
		{ID: "scout", Name: "Research Scout", Category: "research", PriceUnits: 0.005, Reputation: 75, Active: &active},
	}
	cfg.Auth.AllowLegacyRequesterHeader = true
	return cfg
}
