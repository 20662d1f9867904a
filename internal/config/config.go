package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"tracefix/internal/paths"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// Config represents the complete tracefix configuration
type Config struct {
	Version  int    `json:"version" mapstructure:"version" validate:"eq=1"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	Analysis   AnalysisConfig   `json:"analysis" mapstructure:"analysis"`
	Validation ValidationConfig `json:"validation" mapstructure:"validation"`
	Locks      LocksConfig      `json:"locks" mapstructure:"locks"`
	Git        GitConfig        `json:"git" mapstructure:"git"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// AnalysisConfig controls codebase discovery and relationship resolution
type AnalysisConfig struct {
	// PrimaryLanguage forces the primary language; empty means detect.
	PrimaryLanguage    string   `json:"primaryLanguage" mapstructure:"primaryLanguage" validate:"omitempty,oneof=python"`
	MaxRelevantFiles   int      `json:"maxRelevantFiles" mapstructure:"maxRelevantFiles" validate:"gt=0"`
	MaxConfigFiles     int      `json:"maxConfigFiles" mapstructure:"maxConfigFiles" validate:"gt=0"`
	FullSuiteThreshold int      `json:"fullSuiteThreshold" mapstructure:"fullSuiteThreshold" validate:"gt=0"`
	Ignore             []string `json:"ignore" mapstructure:"ignore"`
}

// ValidationConfig controls the change validator
type ValidationConfig struct {
	MaxFileSizeBytes        int64                 `json:"maxFileSizeBytes" mapstructure:"maxFileSizeBytes" validate:"gt=0"`
	ComplexityWarnThreshold int                   `json:"complexityWarnThreshold" mapstructure:"complexityWarnThreshold" validate:"gte=0"`
	ExtraSecretPatterns     []SecretPatternConfig `json:"extraSecretPatterns" mapstructure:"extraSecretPatterns" validate:"dive"`
}

// SecretPatternConfig is a user-supplied credential pattern appended after
// the builtin table.
type SecretPatternConfig struct {
	Name    string `json:"name" mapstructure:"name" validate:"required"`
	Pattern string `json:"pattern" mapstructure:"pattern" validate:"required"`
}

// LocksConfig controls per-file locking
type LocksConfig struct {
	TimeoutMs      int `json:"timeoutMs" mapstructure:"timeoutMs" validate:"gt=0"`
	PollIntervalMs int `json:"pollIntervalMs" mapstructure:"pollIntervalMs" validate:"gt=0"`
}

// GitConfig controls the git backend
type GitConfig struct {
	TimeoutMs   int    `json:"timeoutMs" mapstructure:"timeoutMs" validate:"gt=0"`
	AuthorName  string `json:"authorName,omitempty" mapstructure:"authorName"`
	AuthorEmail string `json:"authorEmail,omitempty" mapstructure:"authorEmail" validate:"omitempty,email"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format" validate:"oneof=human json"`
	Level  string `json:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
}

// LockTimeout returns the lock wait bound as a duration.
func (c LocksConfig) LockTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// PollInterval returns the lock retry interval as a duration.
func (c LocksConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// CommandTimeout returns the per-command git timeout.
func (c GitConfig) CommandTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:  CurrentVersion,
		RepoRoot: ".",
		Analysis: AnalysisConfig{
			MaxRelevantFiles:   100,
			MaxConfigFiles:     20,
			FullSuiteThreshold: 5,
			Ignore:             []string{"node_modules", "build", "dist", "vendor", ".venv", "venv", "env", "__pycache__", ".tox", ".mypy_cache", ".pytest_cache"},
		},
		Validation: ValidationConfig{
			MaxFileSizeBytes:        1 << 20,
			ComplexityWarnThreshold: 15,
			ExtraSecretPatterns:     []SecretPatternConfig{},
		},
		Locks: LocksConfig{
			TimeoutMs:      10000,
			PollIntervalMs: 50,
		},
		Git: GitConfig{
			TimeoutMs: 30000,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from <repoRoot>/.tracefix/config.json with
// TRACEFIX_* environment overrides (e.g. TRACEFIX_LOCKS_TIMEOUTMS). A missing
// file yields the defaults.
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(paths.GetToolDir(repoRoot))
	v.SetEnvPrefix("TRACEFIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.RepoRoot = repoRoot

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("repoRoot", d.RepoRoot)
	v.SetDefault("analysis.primaryLanguage", d.Analysis.PrimaryLanguage)
	v.SetDefault("analysis.maxRelevantFiles", d.Analysis.MaxRelevantFiles)
	v.SetDefault("analysis.maxConfigFiles", d.Analysis.MaxConfigFiles)
	v.SetDefault("analysis.fullSuiteThreshold", d.Analysis.FullSuiteThreshold)
	v.SetDefault("analysis.ignore", d.Analysis.Ignore)
	v.SetDefault("validation.maxFileSizeBytes", d.Validation.MaxFileSizeBytes)
	v.SetDefault("validation.complexityWarnThreshold", d.Validation.ComplexityWarnThreshold)
	v.SetDefault("validation.extraSecretPatterns", d.Validation.ExtraSecretPatterns)
	v.SetDefault("locks.timeoutMs", d.Locks.TimeoutMs)
	v.SetDefault("locks.pollIntervalMs", d.Locks.PollIntervalMs)
	v.SetDefault("git.timeoutMs", d.Git.TimeoutMs)
	v.SetDefault("git.authorName", d.Git.AuthorName)
	v.SetDefault("git.authorEmail", d.Git.AuthorEmail)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
}

// Save writes the configuration to <repoRoot>/.tracefix/config.json
func (c *Config) Save(repoRoot string) error {
	configPath := paths.GetConfigPath(repoRoot)
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and that extra secret patterns compile.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigError{Field: fe.Namespace(), Message: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value())}
		}
		return &ConfigError{Field: "config", Message: err.Error()}
	}

	for i, p := range c.Validation.ExtraSecretPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return &ConfigError{
				Field:   fmt.Sprintf("validation.extraSecretPatterns[%d]", i),
				Message: "invalid regular expression: " + err.Error(),
			}
		}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
