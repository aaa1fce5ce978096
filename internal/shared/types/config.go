package types

import "time"

// Config is the service configuration, loadable from a TOML, YAML, or JSON
// file. Zero values fall back to the defaults below.
type Config struct {
	Env        string           `json:"env" yaml:"env" toml:"env"`
	Log        LogConfig        `json:"log" yaml:"log" toml:"log"`
	Database   DatabaseConfig   `json:"database" yaml:"database" toml:"database"`
	Ingestion  IngestionConfig  `json:"ingestion" yaml:"ingestion" toml:"ingestion"`
	Resilience ResilienceConfig `json:"resilience" yaml:"resilience" toml:"resilience"`
	AWS        AWSConfig        `json:"aws" yaml:"aws" toml:"aws"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"` // json|console
	Output string `json:"output" yaml:"output" toml:"output"` // stdout|stderr|path
}

// DatabaseConfig selects the relational store backing the normalized rows.
type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"` // postgres|sqlite
	DSN    string `json:"dsn" yaml:"dsn" toml:"dsn"`
	Path   string `json:"path" yaml:"path" toml:"path"` // sqlite only
}

// IngestionConfig bounds the bulk export engine.
type IngestionConfig struct {
	// MaxFileSizeBytes is the per-file ceiling; larger export files are
	// skipped with a warning rather than loaded.
	MaxFileSizeBytes int64 `json:"max_file_size_bytes" yaml:"max_file_size_bytes" toml:"max_file_size_bytes"`
	// FileConcurrency bounds concurrent file downloads within one period.
	FileConcurrency int `json:"file_concurrency" yaml:"file_concurrency" toml:"file_concurrency"`
	// ProcessingStaleAfterMinutes is how long a processing ledger row is
	// trusted before it is treated as crash residue and retried.
	ProcessingStaleAfterMinutes int `json:"processing_stale_after_minutes" yaml:"processing_stale_after_minutes" toml:"processing_stale_after_minutes"`
}

// ProcessingStaleAfter returns the guard window as a duration.
func (c IngestionConfig) ProcessingStaleAfter() time.Duration {
	return time.Duration(c.ProcessingStaleAfterMinutes) * time.Minute
}

// ResilienceConfig tunes the circuit breaker and retry wrapper.
type ResilienceConfig struct {
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" toml:"failure_threshold"`
	CooldownSeconds  int `json:"cooldown_seconds" yaml:"cooldown_seconds" toml:"cooldown_seconds"`
	HalfOpenMax      int `json:"half_open_max" yaml:"half_open_max" toml:"half_open_max"`
	SuccessToClose   int `json:"success_to_close" yaml:"success_to_close" toml:"success_to_close"`

	MaxAttempts           int `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	AttemptTimeoutSeconds int `json:"attempt_timeout_seconds" yaml:"attempt_timeout_seconds" toml:"attempt_timeout_seconds"`
	InitialDelayMillis    int `json:"initial_delay_millis" yaml:"initial_delay_millis" toml:"initial_delay_millis"`
	MaxDelaySeconds       int `json:"max_delay_seconds" yaml:"max_delay_seconds" toml:"max_delay_seconds"`
}

// AWSConfig holds defaults for AWS API access.
type AWSConfig struct {
	Region string `json:"region" yaml:"region" toml:"region"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Env: "dev",
		Log: LogConfig{Level: "info", Format: "json", Output: "stderr"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "data/costingest.db"},
		Ingestion: IngestionConfig{
			MaxFileSizeBytes:            1 << 30,
			FileConcurrency:             4,
			ProcessingStaleAfterMinutes: 120,
		},
		Resilience: ResilienceConfig{
			FailureThreshold:      5,
			CooldownSeconds:       60,
			HalfOpenMax:           3,
			SuccessToClose:        2,
			MaxAttempts:           3,
			AttemptTimeoutSeconds: 30,
			InitialDelayMillis:    1000,
			MaxDelaySeconds:       30,
		},
		AWS: AWSConfig{Region: "us-east-1"},
	}
}

// ApplyDefaults fills zero values with defaults so partially specified
// config files behave predictably.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Env == "" {
		c.Env = d.Env
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = d.Log.Output
	}
	if c.Database.Driver == "" {
		c.Database.Driver = d.Database.Driver
	}
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}
	if c.Ingestion.MaxFileSizeBytes == 0 {
		c.Ingestion.MaxFileSizeBytes = d.Ingestion.MaxFileSizeBytes
	}
	if c.Ingestion.FileConcurrency == 0 {
		c.Ingestion.FileConcurrency = d.Ingestion.FileConcurrency
	}
	if c.Ingestion.ProcessingStaleAfterMinutes == 0 {
		c.Ingestion.ProcessingStaleAfterMinutes = d.Ingestion.ProcessingStaleAfterMinutes
	}
	if c.Resilience.FailureThreshold == 0 {
		c.Resilience.FailureThreshold = d.Resilience.FailureThreshold
	}
	if c.Resilience.CooldownSeconds == 0 {
		c.Resilience.CooldownSeconds = d.Resilience.CooldownSeconds
	}
	if c.Resilience.HalfOpenMax == 0 {
		c.Resilience.HalfOpenMax = d.Resilience.HalfOpenMax
	}
	if c.Resilience.SuccessToClose == 0 {
		c.Resilience.SuccessToClose = d.Resilience.SuccessToClose
	}
	if c.Resilience.MaxAttempts == 0 {
		c.Resilience.MaxAttempts = d.Resilience.MaxAttempts
	}
	if c.Resilience.AttemptTimeoutSeconds == 0 {
		c.Resilience.AttemptTimeoutSeconds = d.Resilience.AttemptTimeoutSeconds
	}
	if c.Resilience.InitialDelayMillis == 0 {
		c.Resilience.InitialDelayMillis = d.Resilience.InitialDelayMillis
	}
	if c.Resilience.MaxDelaySeconds == 0 {
		c.Resilience.MaxDelaySeconds = d.Resilience.MaxDelaySeconds
	}
	if c.AWS.Region == "" {
		c.AWS.Region = d.AWS.Region
	}
}
