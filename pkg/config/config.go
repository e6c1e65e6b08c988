package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for flightclean.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Cleaning pipeline tuning
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Optional run artifacts
	Output OutputConfig `yaml:"output"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"flights"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"flights"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"4"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// PipelineConfig holds the tolerances and switches of the cleaning stages.
type PipelineConfig struct {
	// DelayToleranceMinutes is the allowed |stored - recomputed| for dep_delay and arr_delay
	// before the auditor counts a discrepancy. 0 means exact equality.
	DelayToleranceMinutes int `yaml:"delay_tolerance_minutes" env:"PIPELINE_DELAY_TOLERANCE_MINUTES" env-default:"0"`

	// DurationToleranceMinutes bounds the gap between the scheduled block time and the
	// actual elapsed time before a record is flagged as a likely data-entry error.
	DurationToleranceMinutes int `yaml:"duration_tolerance_minutes" env:"PIPELINE_DURATION_TOLERANCE_MINUTES" env-default:"45"`

	// TimezonesMissingOnly restricts reference repair to airports without a timezone.
	// The default re-derives every airport's timezone from its coordinates.
	// Expressed negatively because cleanenv replaces a false YAML value with a "true" default.
	TimezonesMissingOnly bool `yaml:"timezones_missing_only" env:"PIPELINE_TIMEZONES_MISSING_ONLY"`

	// MaxSpeedMPH is the average ground speed above which a flight is implausible.
	MaxSpeedMPH float64 `yaml:"max_speed_mph" env:"PIPELINE_MAX_SPEED_MPH" env-default:"700"`

	// DistanceErrorMarginKM is how far a stored route distance may stray from the
	// great-circle distance between its airports.
	DistanceErrorMarginKM float64 `yaml:"distance_error_margin_km" env:"PIPELINE_DISTANCE_ERROR_MARGIN_KM" env-default:"50"`
}

// OutputConfig holds optional artifact paths. Empty disables the artifact.
type OutputConfig struct {
	MetricsTextfile string `yaml:"metrics_textfile" env:"OUTPUT_METRICS_TEXTFILE" env-default:""`
	ReportXLSX      string `yaml:"report_xlsx" env:"OUTPUT_REPORT_XLSX" env-default:""`
}

// Load reads configuration from the YAML file at path with environment variable
// overrides. An empty path reads the environment only.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.Pipeline.validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}

	return cfg, nil
}

// RecalculateTimezones reports whether reference repair re-derives every timezone.
func (p *PipelineConfig) RecalculateTimezones() bool {
	return !p.TimezonesMissingOnly
}

func (p *PipelineConfig) validate() error {
	if p.DelayToleranceMinutes < 0 {
		return fmt.Errorf("delay_tolerance_minutes must be >= 0, got %d", p.DelayToleranceMinutes)
	}
	if p.DurationToleranceMinutes < 0 {
		return fmt.Errorf("duration_tolerance_minutes must be >= 0, got %d", p.DurationToleranceMinutes)
	}
	if p.MaxSpeedMPH <= 0 {
		return fmt.Errorf("max_speed_mph must be > 0, got %v", p.MaxSpeedMPH)
	}
	if p.DistanceErrorMarginKM < 0 {
		return fmt.Errorf("distance_error_margin_km must be >= 0, got %v", p.DistanceErrorMarginKM)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
