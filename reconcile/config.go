package reconcile

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ArielCalisaya/HideThis/dom"
	"github.com/ArielCalisaya/HideThis/selector"
)

// Config holds all reconciler configuration.
type Config struct {
	DBPath      string         `yaml:"db_path"`
	Debounce    DebounceConfig `yaml:"debounce"`
	LookAheadPx int            `yaml:"look_ahead_px"`
	Resolver    ResolverConfig `yaml:"resolver"`
}

// DebounceConfig controls addition-batch behaviour.
type DebounceConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxBuffer int           `yaml:"max_buffer"`
}

// ResolverConfig exposes the selector heuristics for tuning. Zero fields
// keep the extension's empirically tuned defaults.
type ResolverConfig struct {
	MinVisible   int     `yaml:"min_visible"`
	SmallWidth   int     `yaml:"small_width"`
	SmallHeight  int     `yaml:"small_height"`
	GrowthFactor float64 `yaml:"growth_factor"`
	MaxClimb     int     `yaml:"max_climb"`
	OwnPrefix    string  `yaml:"own_prefix"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "hidethis.db"
	}
	if c.Debounce.Window <= 0 {
		c.Debounce.Window = 250 * time.Millisecond
	}
	if c.Debounce.MaxBuffer <= 0 {
		c.Debounce.MaxBuffer = 1000
	}
	if c.LookAheadPx <= 0 {
		c.LookAheadPx = dom.DefaultLookAhead
	}
}

// policy maps the YAML-facing resolver config onto a selector.Policy.
func (c *Config) policy() selector.Policy {
	return selector.Policy{
		MinVisible:   c.Resolver.MinVisible,
		SmallWidth:   c.Resolver.SmallWidth,
		SmallHeight:  c.Resolver.SmallHeight,
		GrowthFactor: c.Resolver.GrowthFactor,
		MaxClimb:     c.Resolver.MaxClimb,
		OwnPrefix:    c.Resolver.OwnPrefix,
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}
