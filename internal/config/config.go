package config

import (
	"fmt"
	"os"
	"time"

	"bazaar-radar/internal/engine"

	"gopkg.in/yaml.v3"
)

// Config holds application settings (in-memory representation). The zero
// value is not usable; start from Default and layer a YAML file on top.
type Config struct {
	Port        int    `json:"port" yaml:"port"`
	DBPath      string `json:"db_path" yaml:"db_path"`
	FeedBaseURL string `json:"feed_base_url" yaml:"feed_base_url"`

	// RefreshSeconds is the poll cadence against the upstream feed.
	RefreshSeconds int `json:"refresh_seconds" yaml:"refresh_seconds"`

	Scoring engine.ScoringParams     `json:"scoring" yaml:"scoring"`
	Indexes []engine.IndexDefinition `json:"indexes" yaml:"indexes"`
}

// RefreshInterval returns the poll cadence as a duration, floored at 10s so a
// misconfigured file can't hammer the upstream feed.
func (c *Config) RefreshInterval() time.Duration {
	if c.RefreshSeconds < 10 {
		return 10 * time.Second
	}
	return time.Duration(c.RefreshSeconds) * time.Second
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Port:           8080,
		FeedBaseURL:    "https://api.marketplace.example/v2",
		RefreshSeconds: 60,
		Scoring:        engine.DefaultScoringParams,
		Indexes: []engine.IndexDefinition{
			{Name: "enchanted", Constituents: []string{"ENCHANTED_*"}},
			{Name: "farming", Constituents: []string{"WHEAT", "CARROT_ITEM", "POTATO_ITEM", "SUGAR_CANE", "PUMPKIN", "MELON"}},
			{Name: "mining", Constituents: []string{"COAL", "IRON_INGOT", "GOLD_INGOT", "DIAMOND", "EMERALD", "REDSTONE"}},
		},
	}
}

// Load returns defaults overlaid with the YAML file at path. An empty path
// returns plain defaults; a missing file is an error so a typo'd --config
// flag doesn't silently run on defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.FeedBaseURL == "" {
		return fmt.Errorf("feed_base_url must not be empty")
	}
	if c.Scoring.TakerFeeRate < 0 || c.Scoring.TakerFeeRate >= 1 {
		return fmt.Errorf("taker_fee_rate %v out of [0,1)", c.Scoring.TakerFeeRate)
	}
	seen := make(map[string]bool, len(c.Indexes))
	for _, def := range c.Indexes {
		if def.Name == "" {
			return fmt.Errorf("index with empty name")
		}
		if seen[def.Name] {
			return fmt.Errorf("duplicate index %q", def.Name)
		}
		seen[def.Name] = true
	}
	return nil
}
