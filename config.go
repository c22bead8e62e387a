package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Service struct {
		Name               string `yaml:"name"`
		HealthPort         int    `yaml:"health_port"`
		RunIntervalMinutes int    `yaml:"run_interval_minutes"` // daemon mode polling interval
	} `yaml:"service"`

	// Source is the operational database the pipeline reads from.
	// The transactional, reference and market tables all live here;
	// access is strictly read-only.
	Source PostgresConfig `yaml:"source"`

	// Warehouse is the analytical database the star schema is written to.
	Warehouse PostgresConfig `yaml:"warehouse"`

	ETL struct {
		BatchSize           int `yaml:"batch_size"`            // rows per staging batch
		Workers             int `yaml:"workers"`               // validation/enrichment workers
		QueryTimeoutSeconds int `yaml:"query_timeout_seconds"` // per-statement bound
		MaxRetries          int `yaml:"max_retries"`           // idempotent read retries
	} `yaml:"etl"`
}

// PostgresConfig holds connection settings for one database
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnectionString returns a pgx-compatible connection string
func (p *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Set defaults
	if cfg.Service.Name == "" {
		cfg.Service.Name = "star-etl"
	}
	if cfg.Service.HealthPort == 0 {
		cfg.Service.HealthPort = 8094
	}
	if cfg.Service.RunIntervalMinutes == 0 {
		cfg.Service.RunIntervalMinutes = 30
	}
	if cfg.Source.Port == 0 {
		cfg.Source.Port = 5432
	}
	if cfg.Source.SSLMode == "" {
		cfg.Source.SSLMode = "disable"
	}
	if cfg.Warehouse.Port == 0 {
		cfg.Warehouse.Port = 5432
	}
	if cfg.Warehouse.SSLMode == "" {
		cfg.Warehouse.SSLMode = "disable"
	}
	if cfg.ETL.BatchSize == 0 {
		cfg.ETL.BatchSize = 5000
	}
	if cfg.ETL.Workers == 0 {
		cfg.ETL.Workers = 4
	}
	if cfg.ETL.QueryTimeoutSeconds == 0 {
		cfg.ETL.QueryTimeoutSeconds = 60
	}
	if cfg.ETL.MaxRetries == 0 {
		cfg.ETL.MaxRetries = 3
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Source.Host == "" {
		return fmt.Errorf("source.host is required")
	}
	if c.Source.Database == "" {
		return fmt.Errorf("source.database is required")
	}
	if c.Warehouse.Host == "" {
		return fmt.Errorf("warehouse.host is required")
	}
	if c.Warehouse.Database == "" {
		return fmt.Errorf("warehouse.database is required")
	}
	if c.ETL.BatchSize < 1000 || c.ETL.BatchSize > 10000 {
		return fmt.Errorf("etl.batch_size must be between 1000 and 10000")
	}
	return nil
}

// QueryTimeout returns the per-statement timeout as a Duration
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.ETL.QueryTimeoutSeconds) * time.Second
}

// RunInterval returns the daemon polling interval as a Duration
func (c *Config) RunInterval() time.Duration {
	return time.Duration(c.Service.RunIntervalMinutes) * time.Minute
}
