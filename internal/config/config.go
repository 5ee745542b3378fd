package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all curator configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database" mapstructure:"database"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Scorer      ScorerConfig      `yaml:"scorer" mapstructure:"scorer"`
	Merger      MergerConfig      `yaml:"merger" mapstructure:"merger"`
	Pruner      PrunerConfig      `yaml:"pruner" mapstructure:"pruner"`
	Maintenance MaintenanceConfig `yaml:"maintenance" mapstructure:"maintenance"`
}

type DatabaseConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // "sqlite" or "badger"
	Path    string `yaml:"path" mapstructure:"path"`       // empty resolves to ~/.curator/<backend default>
}

type ServerConfig struct {
	Bind string `yaml:"bind" mapstructure:"bind"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// Weights are the percentage contribution of each sub-score. They must sum to 100.
type Weights struct {
	Age     float64 `yaml:"age" mapstructure:"age"`
	Usage   float64 `yaml:"usage" mapstructure:"usage"`
	Success float64 `yaml:"success" mapstructure:"success"`
	Recency float64 `yaml:"recency" mapstructure:"recency"`
}

// Sum returns the total of all four weights.
func (w Weights) Sum() float64 {
	return w.Age + w.Usage + w.Success + w.Recency
}

type ScorerConfig struct {
	DecayDays   float64 `yaml:"decay_days" mapstructure:"decay_days"`     // age decay constant
	RecencyDays float64 `yaml:"recency_days" mapstructure:"recency_days"` // last-use decay constant
	Weights     Weights `yaml:"weights" mapstructure:"weights"`
}

type MergerConfig struct {
	SimilarityThreshold     float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	PatternJaccardWeight    float64 `yaml:"pattern_jaccard_weight" mapstructure:"pattern_jaccard_weight"`
	PatternEditWeight       float64 `yaml:"pattern_edit_weight" mapstructure:"pattern_edit_weight"`
	CorrectionJaccardWeight float64 `yaml:"correction_jaccard_weight" mapstructure:"correction_jaccard_weight"`
}

type PrunerConfig struct {
	MinScoreThreshold float64 `yaml:"min_score_threshold" mapstructure:"min_score_threshold"`
	MinKeepCount      int     `yaml:"min_keep_count" mapstructure:"min_keep_count"`
	MinAgeDays        int     `yaml:"min_age_days" mapstructure:"min_age_days"`
}

type MaintenanceConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	Apply    bool          `yaml:"apply" mapstructure:"apply"` // false keeps scheduled passes in dry-run
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Backend: "sqlite",
			Path:    "", // resolved at runtime via store.DefaultDBPath()
		},
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Scorer: DefaultScorer(),
		Merger: DefaultMerger(),
		Pruner: DefaultPruner(),
		Maintenance: MaintenanceConfig{
			Interval: 24 * time.Hour,
		},
	}
}

func DefaultScorer() ScorerConfig {
	return ScorerConfig{
		DecayDays:   30,
		RecencyDays: 7,
		Weights:     Weights{Age: 30, Usage: 25, Success: 25, Recency: 20},
	}
}

func DefaultMerger() MergerConfig {
	return MergerConfig{
		SimilarityThreshold:     0.85,
		PatternJaccardWeight:    0.5,
		PatternEditWeight:       0.3,
		CorrectionJaccardWeight: 0.2,
	}
}

func DefaultPruner() PrunerConfig {
	return PrunerConfig{
		MinScoreThreshold: 20,
		MinKeepCount:      50,
		MinAgeDays:        30,
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

const epsilon = 1e-9

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the scorer section.
func (c ScorerConfig) Validate() error {
	if !(c.DecayDays > 0) {
		return invalid("scorer.decay_days must be positive, got %v", c.DecayDays)
	}
	if !(c.RecencyDays > 0) {
		return invalid("scorer.recency_days must be positive, got %v", c.RecencyDays)
	}
	w := c.Weights
	for _, f := range []struct {
		name string
		v    float64
	}{{"age", w.Age}, {"usage", w.Usage}, {"success", w.Success}, {"recency", w.Recency}} {
		if f.v < 0 || math.IsNaN(f.v) {
			return invalid("scorer.weights.%s must be non-negative, got %v", f.name, f.v)
		}
	}
	if math.Abs(w.Sum()-100) > epsilon {
		return invalid("scorer.weights must sum to 100, got %v", w.Sum())
	}
	return nil
}

// Validate checks the merger section.
func (c MergerConfig) Validate() error {
	if !(c.SimilarityThreshold > 0 && c.SimilarityThreshold <= 1) {
		return invalid("merger.similarity_threshold must be in (0, 1], got %v", c.SimilarityThreshold)
	}
	weights := []float64{c.PatternJaccardWeight, c.PatternEditWeight, c.CorrectionJaccardWeight}
	sum := 0.0
	for _, v := range weights {
		if v < 0 || math.IsNaN(v) {
			return invalid("merger similarity weights must be non-negative, got %v", v)
		}
		sum += v
	}
	if math.Abs(sum-1) > epsilon {
		return invalid("merger similarity weights must sum to 1, got %v", sum)
	}
	return nil
}

// Validate checks the pruner section.
func (c PrunerConfig) Validate() error {
	if c.MinScoreThreshold < 0 || c.MinScoreThreshold > 100 || math.IsNaN(c.MinScoreThreshold) {
		return invalid("pruner.min_score_threshold must be in [0, 100], got %v", c.MinScoreThreshold)
	}
	if c.MinKeepCount < 0 {
		return invalid("pruner.min_keep_count must be non-negative, got %d", c.MinKeepCount)
	}
	if c.MinAgeDays < 0 {
		return invalid("pruner.min_age_days must be non-negative, got %d", c.MinAgeDays)
	}
	return nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "sqlite", "badger":
	default:
		return invalid("database.backend must be sqlite or badger, got %q", c.Database.Backend)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port out of range: %d", c.Server.Port)
	}
	if err := c.Scorer.Validate(); err != nil {
		return err
	}
	if err := c.Merger.Validate(); err != nil {
		return err
	}
	if err := c.Pruner.Validate(); err != nil {
		return err
	}
	if c.Maintenance.Interval < 0 {
		return invalid("maintenance.interval must not be negative, got %s", c.Maintenance.Interval)
	}
	return nil
}

// DefaultPath returns ~/.curator/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".curator", "config.yaml"), nil
}

// Load reads the YAML file at path on top of the defaults and applies
// CURATOR_* environment overrides (e.g. CURATOR_PRUNER_MIN_KEEP_COUNT).
// A missing file is not an error. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CURATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return cfg, fmt.Errorf("read config %s: %w", path, err)
				}
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("database.backend", cfg.Database.Backend)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("server.bind", cfg.Server.Bind)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("scorer.decay_days", cfg.Scorer.DecayDays)
	v.SetDefault("scorer.recency_days", cfg.Scorer.RecencyDays)
	v.SetDefault("scorer.weights.age", cfg.Scorer.Weights.Age)
	v.SetDefault("scorer.weights.usage", cfg.Scorer.Weights.Usage)
	v.SetDefault("scorer.weights.success", cfg.Scorer.Weights.Success)
	v.SetDefault("scorer.weights.recency", cfg.Scorer.Weights.Recency)
	v.SetDefault("merger.similarity_threshold", cfg.Merger.SimilarityThreshold)
	v.SetDefault("merger.pattern_jaccard_weight", cfg.Merger.PatternJaccardWeight)
	v.SetDefault("merger.pattern_edit_weight", cfg.Merger.PatternEditWeight)
	v.SetDefault("merger.correction_jaccard_weight", cfg.Merger.CorrectionJaccardWeight)
	v.SetDefault("pruner.min_score_threshold", cfg.Pruner.MinScoreThreshold)
	v.SetDefault("pruner.min_keep_count", cfg.Pruner.MinKeepCount)
	v.SetDefault("pruner.min_age_days", cfg.Pruner.MinAgeDays)
	v.SetDefault("maintenance.interval", cfg.Maintenance.Interval.String())
	v.SetDefault("maintenance.apply", cfg.Maintenance.Apply)
}

// fileConfig mirrors Config for YAML output, with the interval as a
// duration string so the written file reads back through Load.
type fileConfig struct {
	Database    DatabaseConfig `yaml:"database"`
	Server      ServerConfig   `yaml:"server"`
	Scorer      ScorerConfig   `yaml:"scorer"`
	Merger      MergerConfig   `yaml:"merger"`
	Pruner      PrunerConfig   `yaml:"pruner"`
	Maintenance struct {
		Interval string `yaml:"interval"`
		Apply    bool   `yaml:"apply"`
	} `yaml:"maintenance"`
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	fc := fileConfig{
		Database: cfg.Database,
		Server:   cfg.Server,
		Scorer:   cfg.Scorer,
		Merger:   cfg.Merger,
		Pruner:   cfg.Pruner,
	}
	fc.Maintenance.Interval = cfg.Maintenance.Interval.String()
	fc.Maintenance.Apply = cfg.Maintenance.Apply

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
