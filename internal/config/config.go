// Package config resolves the per-invocation configuration: config file,
// RECALL_* environment overrides, then defaults. It is loaded once at
// startup and passed down; nothing reads settings mid-algorithm.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved settings for one invocation
type Config struct {
	StateDir             string  `yaml:"state_dir" mapstructure:"state_dir"`
	DebugLevel           int     `yaml:"debug_level" mapstructure:"debug_level"`
	BlockedThresholdDays int     `yaml:"blocked_threshold_days" mapstructure:"blocked_threshold_days"`
	QueryMaxLen          int     `yaml:"query_max_len" mapstructure:"query_max_len"`
	InjectBudgetBytes    int     `yaml:"inject_budget_bytes" mapstructure:"inject_budget_bytes"`
	LockTimeoutMS        int     `yaml:"lock_timeout_ms" mapstructure:"lock_timeout_ms"`
	ArchiveAfterDays     int     `yaml:"archive_after_days" mapstructure:"archive_after_days"`
	DecayIntervalDays    int     `yaml:"decay_interval_days" mapstructure:"decay_interval_days"`
	RecencyHalfLifeDays  float64 `yaml:"recency_half_life_days" mapstructure:"recency_half_life_days"`
}

// DefaultConfig returns the built-in settings
func DefaultConfig() *Config {
	return &Config{
		StateDir:             defaultStateDir(),
		DebugLevel:           0,
		BlockedThresholdDays: 3,
		QueryMaxLen:          400,
		InjectBudgetBytes:    4096,
		LockTimeoutMS:        2000,
		ArchiveAfterDays:     7,
		DecayIntervalDays:    7,
		RecencyHalfLifeDays:  30,
	}
}

func defaultStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "recall")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recall-state"
	}
	return filepath.Join(home, ".local", "state", "recall")
}

// Load reads config.yaml from the usual locations with environment
// overrides. A missing config file is fine; defaults apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Defaults registered up front so env overrides bind to known keys.
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("debug_level", cfg.DebugLevel)
	v.SetDefault("blocked_threshold_days", cfg.BlockedThresholdDays)
	v.SetDefault("query_max_len", cfg.QueryMaxLen)
	v.SetDefault("inject_budget_bytes", cfg.InjectBudgetBytes)
	v.SetDefault("lock_timeout_ms", cfg.LockTimeoutMS)
	v.SetDefault("archive_after_days", cfg.ArchiveAfterDays)
	v.SetDefault("decay_interval_days", cfg.DecayIntervalDays)
	v.SetDefault("recency_half_life_days", cfg.RecencyHalfLifeDays)

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		v.AddConfigPath(filepath.Join(xdg, "recall"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "recall"))
	}

	v.SetEnvPrefix("RECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	cfg.Validate()
	return cfg, nil
}

// Validate clamps out-of-range values back to their defaults. The core
// treats settings as opaque inputs, so nonsense becomes sane rather than
// fatal.
func (c *Config) Validate() {
	def := DefaultConfig()
	if c.StateDir == "" {
		c.StateDir = def.StateDir
	}
	if c.DebugLevel < 0 || c.DebugLevel > 3 {
		c.DebugLevel = def.DebugLevel
	}
	if c.BlockedThresholdDays < 1 {
		c.BlockedThresholdDays = def.BlockedThresholdDays
	}
	if c.QueryMaxLen < 1 {
		c.QueryMaxLen = def.QueryMaxLen
	}
	if c.InjectBudgetBytes < 1 {
		c.InjectBudgetBytes = def.InjectBudgetBytes
	}
	if c.LockTimeoutMS < 1 {
		c.LockTimeoutMS = def.LockTimeoutMS
	}
	if c.ArchiveAfterDays < 1 {
		c.ArchiveAfterDays = def.ArchiveAfterDays
	}
	if c.DecayIntervalDays < 1 {
		c.DecayIntervalDays = def.DecayIntervalDays
	}
	if c.RecencyHalfLifeDays <= 0 {
		c.RecencyHalfLifeDays = def.RecencyHalfLifeDays
	}
}

// Store file layout. One markdown file per record type per scope, with
// process-wide state under StateDir.

// ProjectLessonsPath is the project-level lessons file
func (c *Config) ProjectLessonsPath(projectDir string) string {
	return filepath.Join(projectDir, ".recall", "LESSONS.md")
}

// SystemLessonsPath is the cross-project lessons file
func (c *Config) SystemLessonsPath() string {
	return filepath.Join(c.StateDir, "LESSONS.md")
}

// HandoffsPath is the project's active handoff file
func (c *Config) HandoffsPath(projectDir string) string {
	return filepath.Join(projectDir, ".recall", "HANDOFFS.md")
}

// HandoffArchivePath is where archived handoffs land
func (c *Config) HandoffArchivePath(projectDir string) string {
	return filepath.Join(projectDir, ".recall", "HANDOFFS_ARCHIVE.md")
}

// SessionIndexPath is the session -> handoff mapping file
func (c *Config) SessionIndexPath() string {
	return filepath.Join(c.StateDir, "session-handoffs.json")
}

// DedupDBPath is the session dedup marker database
func (c *Config) DedupDBPath() string {
	return filepath.Join(c.StateDir, "dedup.db")
}

// DecayStatePath tracks when the last decay cycle ran
func (c *Config) DecayStatePath() string {
	return filepath.Join(c.StateDir, "decay_state.json")
}

// LogPath is the structured debug log
func (c *Config) LogPath() string {
	return filepath.Join(c.StateDir, "recall.log")
}
