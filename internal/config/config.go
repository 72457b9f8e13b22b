// Package config handles configuration loading for reflex.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/reflex/internal/protect"
)

// ProjectFile is the project-level config file name.
const ProjectFile = ".reflex.yaml"

// EnvPrefix prefixes environment overrides: budget.daily is REFLEX_BUDGET_DAILY.
const EnvPrefix = "REFLEX"

// ErrInvalidConfig is wrapped by Validate failures.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration for reflex.
type Config struct {
	Budget     BudgetConfig     `mapstructure:"budget" yaml:"budget"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Memory     MemoryConfig     `mapstructure:"memory" yaml:"memory"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	Loop       LoopConfig       `mapstructure:"loop" yaml:"loop"`
	Gate       GateConfig       `mapstructure:"gate" yaml:"gate"`
	Interrupts InterruptsConfig `mapstructure:"interrupts" yaml:"interrupts"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// BudgetConfig holds spend limits in dollars. A limit of 0 is unlimited.
type BudgetConfig struct {
	Daily            float64 `mapstructure:"daily" yaml:"daily"`
	Weekly           float64 `mapstructure:"weekly" yaml:"weekly"`
	WarningThreshold float64 `mapstructure:"warning_threshold" yaml:"warning_threshold"`
	Enforce          bool    `mapstructure:"enforce" yaml:"enforce"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MemoryEntries int           `mapstructure:"memory_entries" yaml:"memory_entries"`
	// Path is the sqlite database. Empty means the XDG data directory.
	Path string `mapstructure:"path" yaml:"path"`
}

// MemoryConfig holds conversation compaction settings.
type MemoryConfig struct {
	Threshold     int `mapstructure:"threshold" yaml:"threshold"`
	KeepRecent    int `mapstructure:"keep_recent" yaml:"keep_recent"`
	SnippetLength int `mapstructure:"snippet_length" yaml:"snippet_length"`
}

// CheckpointConfig holds checkpoint ring settings.
type CheckpointConfig struct {
	Interval int `mapstructure:"interval" yaml:"interval"`
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// LoopConfig holds execution loop settings.
type LoopConfig struct {
	MaxIterations int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Mode          string        `mapstructure:"mode" yaml:"mode"`
}

// GateConfig holds reflection rule settings.
type GateConfig struct {
	DuplicateWindow    time.Duration `mapstructure:"duplicate_window" yaml:"duplicate_window"`
	DuplicateThreshold int           `mapstructure:"duplicate_threshold" yaml:"duplicate_threshold"`
	MaxWriteBytes      int           `mapstructure:"max_write_bytes" yaml:"max_write_bytes"`
	ProtectedPatterns  []string      `mapstructure:"protected_patterns" yaml:"protected_patterns"`
}

// InterruptsConfig selects where signals come from.
type InterruptsConfig struct {
	Source    string      `mapstructure:"source" yaml:"source"`
	SignalDir string      `mapstructure:"signal_dir" yaml:"signal_dir"`
	Redis     RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig holds the redis pub/sub connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

// ServerConfig holds the status server address. Empty disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Interrupt sources.
const (
	SourceStdin = "stdin"
	SourceFile  = "file"
	SourceRedis = "redis"
	SourceHTTP  = "http"
	SourceNone  = "none"
)

var (
	modes   = []string{"autonomous", "supervised", "collaborative"}
	sources = []string{SourceStdin, SourceFile, SourceRedis, SourceHTTP, SourceNone}
	formats = []string{"console", "json"}
)

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (REFLEX_BUDGET_DAILY, ...)
// 2. Project config (.reflex.yaml in current directory or parent)
// 3. User config (~/.config/reflex/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific file. Environment
// overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Interrupts.Redis.Password = expandEnv(cfg.Interrupts.Redis.Password)
	cfg.Cache.Path = expandEnv(cfg.Cache.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("budget.daily", d.Budget.Daily)
	v.SetDefault("budget.weekly", d.Budget.Weekly)
	v.SetDefault("budget.warning_threshold", d.Budget.WarningThreshold)
	v.SetDefault("budget.enforce", d.Budget.Enforce)

	v.SetDefault("cache.ttl", d.Cache.TTL.String())
	v.SetDefault("cache.memory_entries", d.Cache.MemoryEntries)
	v.SetDefault("cache.path", d.Cache.Path)

	v.SetDefault("memory.threshold", d.Memory.Threshold)
	v.SetDefault("memory.keep_recent", d.Memory.KeepRecent)
	v.SetDefault("memory.snippet_length", d.Memory.SnippetLength)

	v.SetDefault("checkpoint.interval", d.Checkpoint.Interval)
	v.SetDefault("checkpoint.capacity", d.Checkpoint.Capacity)

	v.SetDefault("loop.max_iterations", d.Loop.MaxIterations)
	v.SetDefault("loop.poll_interval", d.Loop.PollInterval.String())
	v.SetDefault("loop.mode", d.Loop.Mode)

	v.SetDefault("gate.duplicate_window", d.Gate.DuplicateWindow.String())
	v.SetDefault("gate.duplicate_threshold", d.Gate.DuplicateThreshold)
	v.SetDefault("gate.max_write_bytes", d.Gate.MaxWriteBytes)
	v.SetDefault("gate.protected_patterns", d.Gate.ProtectedPatterns)

	v.SetDefault("interrupts.source", d.Interrupts.Source)
	v.SetDefault("interrupts.signal_dir", d.Interrupts.SignalDir)
	v.SetDefault("interrupts.redis.addr", d.Interrupts.Redis.Addr)
	v.SetDefault("interrupts.redis.password", d.Interrupts.Redis.Password)
	v.SetDefault("interrupts.redis.db", d.Interrupts.Redis.DB)
	v.SetDefault("interrupts.redis.channel", d.Interrupts.Redis.Channel)

	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Budget: BudgetConfig{
			Daily:            10,
			Weekly:           50,
			WarningThreshold: 0.8,
		},
		Cache: CacheConfig{
			TTL:           7 * 24 * time.Hour,
			MemoryEntries: 256,
		},
		Memory: MemoryConfig{
			Threshold:     50000,
			KeepRecent:    10,
			SnippetLength: 160,
		},
		Checkpoint: CheckpointConfig{
			Interval: 5,
			Capacity: 5,
		},
		Loop: LoopConfig{
			MaxIterations: 100,
			PollInterval:  250 * time.Millisecond,
			Mode:          "autonomous",
		},
		Gate: GateConfig{
			DuplicateWindow:    time.Minute,
			DuplicateThreshold: 3,
			MaxWriteBytes:      1 << 20,
			ProtectedPatterns:  append([]string{}, protect.DefaultPatterns...),
		},
		Interrupts: InterruptsConfig{
			Source:    SourceStdin,
			SignalDir: filepath.Join(".reflex", "signals"),
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Channel: "reflex:signals",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Budget.Daily < 0, "budget.daily must not be negative")
	check(c.Budget.Weekly < 0, "budget.weekly must not be negative")
	check(c.Budget.WarningThreshold <= 0 || c.Budget.WarningThreshold > 1,
		"budget.warning_threshold must be in (0, 1], got %v", c.Budget.WarningThreshold)
	check(c.Cache.TTL <= 0, "cache.ttl must be positive")
	check(c.Cache.MemoryEntries <= 0, "cache.memory_entries must be positive")
	check(c.Memory.Threshold <= 0, "memory.threshold must be positive")
	check(c.Memory.KeepRecent < 0, "memory.keep_recent must not be negative")
	check(c.Memory.SnippetLength <= 0, "memory.snippet_length must be positive")
	check(c.Checkpoint.Interval <= 0, "checkpoint.interval must be positive")
	check(c.Checkpoint.Capacity <= 0, "checkpoint.capacity must be positive")
	check(c.Loop.MaxIterations <= 0, "loop.max_iterations must be positive")
	check(c.Loop.PollInterval <= 0, "loop.poll_interval must be positive")
	check(!oneOf(c.Loop.Mode, modes), "loop.mode must be one of %s, got %q", strings.Join(modes, "|"), c.Loop.Mode)
	check(c.Gate.DuplicateWindow <= 0, "gate.duplicate_window must be positive")
	check(c.Gate.DuplicateThreshold <= 0, "gate.duplicate_threshold must be positive")
	check(c.Gate.MaxWriteBytes <= 0, "gate.max_write_bytes must be positive")
	check(!oneOf(c.Interrupts.Source, sources), "interrupts.source must be one of %s, got %q", strings.Join(sources, "|"), c.Interrupts.Source)
	check(c.Interrupts.Source == SourceFile && c.Interrupts.SignalDir == "", "interrupts.signal_dir is required for the file source")
	check(c.Interrupts.Source == SourceRedis && c.Interrupts.Redis.Addr == "", "interrupts.redis.addr is required for the redis source")
	check(c.Interrupts.Source == SourceHTTP && c.Server.Addr == "", "server.addr is required for the http source")
	check(!oneOf(c.Log.Format, formats), "log.format must be one of %s, got %q", strings.Join(formats, "|"), c.Log.Format)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// WriteYAML writes the effective configuration with secrets masked.
func (c *Config) WriteYAML(w io.Writer) error {
	masked := *c
	masked.Interrupts.Redis.Password = MaskSecret(c.Interrupts.Redis.Password)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

// MaskSecret returns a masked version of a secret for display.
// Shows the first 3 and last 2 characters of long values.
func MaskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:3] + "..." + s[len(s)-2:]
}

func oneOf(s string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(s, a) {
			return true
		}
	}
	return false
}

// getUserConfigDir returns the XDG config directory for reflex.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "reflex")
	}

	// Fall back to ~/.config/reflex
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "reflex")
	}
	return filepath.Join(home, ".config", "reflex")
}

// findProjectConfig searches for .reflex.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}
