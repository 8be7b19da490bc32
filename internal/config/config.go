// Package config handles loading and validating slotwise configuration.
// Supports YAML config files, a .env file and SLOTWISE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Default values.
const (
	DefaultSchedulerInterval = "5s"
	DefaultFallbackStart     = "09:00"
	DefaultFallbackDuration  = "1h"
	DefaultOracleProvider    = "openrouter"
	DefaultOracleModel       = "deepseek/deepseek-v3.2-exp"
	DefaultOracleTimeout     = "30s"
	DefaultMaxAttempts       = 3
	DefaultBackoffInitial    = "1s"
	DefaultBackoffMax        = "10s"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultRetentionDays     = 7
	DefaultCalendarID        = "primary"

	projectConfigName = "slotwise.yaml"
	envPrefix         = "SLOTWISE"
)

// Validation errors.
var (
	ErrCronAndInterval         = errors.New("scheduler: cron and interval are mutually exclusive")
	ErrInvalidInterval         = errors.New("scheduler.interval must be a positive duration")
	ErrInvalidCron             = errors.New("scheduler.cron is not a valid cron expression")
	ErrInvalidFallbackStart    = errors.New("fallback.start must be HH:MM between 00:00 and 23:59")
	ErrInvalidFallbackDuration = errors.New("fallback.duration must be a positive duration")
	ErrInvalidTimezone         = errors.New("fallback.timezone is not a known location")
	ErrInvalidProvider         = errors.New("oracle.provider must be one of: openai, openrouter, ollama, anthropic, gemini")
	ErrInvalidMaxAttempts      = errors.New("oracle.max_attempts must be between 1 and 10")
	ErrInvalidOracleDuration   = errors.New("oracle timeout/backoff values must be positive durations")
	ErrInvalidLogLevel         = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat        = errors.New("logging.format must be one of: json, text")
)

// Config holds all slotwise configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
}

// DatabaseConfig locates the sqlite file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig drives the background loop. Exactly one of Interval or Cron is used.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
	Cron     string `mapstructure:"cron"`
}

// FallbackConfig defines the deterministic window used when the oracle is unavailable.
type FallbackConfig struct {
	Start    string `mapstructure:"start" validate:"required"`
	Duration string `mapstructure:"duration" validate:"required"`
	Timezone string `mapstructure:"timezone"`
}

// OracleConfig selects and tunes the scheduling oracle.
type OracleConfig struct {
	Provider       string `mapstructure:"provider" validate:"oneof=openai openrouter ollama anthropic gemini"`
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout        string `mapstructure:"timeout"`
	MaxAttempts    int    `mapstructure:"max_attempts" validate:"min=1,max=10"`
	BackoffInitial string `mapstructure:"backoff_initial"`
	BackoffMax     string `mapstructure:"backoff_max"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level         string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format        string `mapstructure:"format" validate:"oneof=json text"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// AuditConfig controls the JSONL transition log.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// CalendarConfig controls the optional Google Calendar mirror.
type CalendarConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CalendarID      string `mapstructure:"calendar_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

var validate = validator.New()

// GlobalConfigPath returns the user-wide config file location.
func GlobalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "slotwise", "config.yaml")
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "slotwise", "slotwise.db")
}

// DefaultLogPath returns the default log directory.
func DefaultLogPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "slotwise", "logs")
}

// DefaultAuditPath returns the default audit directory.
func DefaultAuditPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "slotwise", "audit")
}

// Load reads configuration from the working directory, the global config and environment.
func Load() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working dir: %w", err)
	}
	return LoadFromPaths(wd, GlobalConfigPath())
}

// LoadFromPaths loads the global config first, then merges the project config in projectDir.
// Missing files are not an error.
func LoadFromPaths(projectDir, globalPath string) (*Config, error) {
	// .env only fills variables that are not already set.
	_ = godotenv.Load(filepath.Join(projectDir, ".env"))

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(globalPath); err == nil {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading global config: %w", err)
		}
	}

	projectPath := filepath.Join(projectDir, projectConfigName)
	if _, err := os.Stat(projectPath); err == nil {
		v.SetConfigFile(projectPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDBPath())
	v.SetDefault("scheduler.enabled", true)
	// Left empty so a configured cron does not collide with a default interval.
	v.SetDefault("scheduler.interval", "")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("fallback.start", DefaultFallbackStart)
	v.SetDefault("fallback.duration", DefaultFallbackDuration)
	v.SetDefault("fallback.timezone", "")
	v.SetDefault("oracle.provider", DefaultOracleProvider)
	v.SetDefault("oracle.model", DefaultOracleModel)
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.base_url", "")
	v.SetDefault("oracle.timeout", DefaultOracleTimeout)
	v.SetDefault("oracle.max_attempts", DefaultMaxAttempts)
	v.SetDefault("oracle.backoff_initial", DefaultBackoffInitial)
	v.SetDefault("oracle.backoff_max", DefaultBackoffMax)
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
	v.SetDefault("logging.path", DefaultLogPath())
	v.SetDefault("logging.retention_days", DefaultRetentionDays)
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.path", DefaultAuditPath())
	v.SetDefault("calendar.enabled", false)
	v.SetDefault("calendar.calendar_id", DefaultCalendarID)
	v.SetDefault("calendar.credentials_file", "")
}

// Validate checks a config for internally consistent values.
// Tag-level failures are mapped to the sentinel error for the offending field.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return fmt.Errorf("validating config: %w", err)
	}

	s := cfg.Scheduler
	if s.Cron != "" && s.Interval != "" {
		return ErrCronAndInterval
	}
	if s.Cron != "" {
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCron, err)
		}
	} else if s.Interval != "" {
		if d, err := time.ParseDuration(s.Interval); err != nil || d <= 0 {
			return ErrInvalidInterval
		}
	}

	if _, _, err := ParseClock(cfg.Fallback.Start); err != nil {
		return ErrInvalidFallbackStart
	}
	if d, err := time.ParseDuration(cfg.Fallback.Duration); err != nil || d <= 0 {
		return ErrInvalidFallbackDuration
	}
	if cfg.Fallback.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Fallback.Timezone); err != nil {
			return ErrInvalidTimezone
		}
	}

	for _, raw := range []string{cfg.Oracle.Timeout, cfg.Oracle.BackoffInitial, cfg.Oracle.BackoffMax} {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("%w: %q", ErrInvalidOracleDuration, raw)
		}
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	switch fe.StructNamespace() {
	case "Config.Oracle.Provider":
		return ErrInvalidProvider
	case "Config.Oracle.MaxAttempts":
		return ErrInvalidMaxAttempts
	case "Config.Logging.Level":
		return ErrInvalidLogLevel
	case "Config.Logging.Format":
		return ErrInvalidLogFormat
	case "Config.Fallback.Start":
		return ErrInvalidFallbackStart
	case "Config.Fallback.Duration":
		return ErrInvalidFallbackDuration
	default:
		return fmt.Errorf("config field %s failed %q", fe.StructNamespace(), fe.Tag())
	}
}

// ParseClock parses an HH:MM string.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock time %q (use HH:MM)", s)
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &hour); err != nil {
		return 0, 0, fmt.Errorf("invalid hour %q", parts[0])
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid minute %q", parts[1])
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	return hour, minute, nil
}

// SchedulerInterval returns the parsed loop interval. It is zero when cron
// is used and DefaultSchedulerInterval when neither is set.
func (c *Config) SchedulerInterval() time.Duration {
	if c.Scheduler.Cron != "" {
		return 0
	}
	if c.Scheduler.Interval == "" {
		d, _ := time.ParseDuration(DefaultSchedulerInterval)
		return d
	}
	d, _ := time.ParseDuration(c.Scheduler.Interval)
	return d
}

// FallbackDuration returns the parsed fallback window length.
func (c *Config) FallbackDuration() time.Duration {
	d, _ := time.ParseDuration(c.Fallback.Duration)
	return d
}

// FallbackLocation returns the zone used for fallback day boundaries.
func (c *Config) FallbackLocation() *time.Location {
	if c.Fallback.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Fallback.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// OracleTimeout returns the per-call oracle timeout.
func (c *Config) OracleTimeout() time.Duration {
	return parseDurationOr(c.Oracle.Timeout, 30*time.Second)
}

// BackoffInitial returns the first retry delay.
func (c *Config) BackoffInitial() time.Duration {
	return parseDurationOr(c.Oracle.BackoffInitial, time.Second)
}

// BackoffMax returns the retry delay cap.
func (c *Config) BackoffMax() time.Duration {
	return parseDurationOr(c.Oracle.BackoffMax, 10*time.Second)
}

// ExpandedDBPath returns the database path with ~ expanded.
func (c *Config) ExpandedDBPath() string {
	if c.Database.Path == "" {
		return DefaultDBPath()
	}
	return ExpandPath(c.Database.Path)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

func parseDurationOr(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
