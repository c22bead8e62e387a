package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const minimalConfig = `
source:
  host: src.example.com
  database: lending
warehouse:
  host: wh.example.com
  database: analytics
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Service.Name != "star-etl" {
		t.Errorf("Service.Name = %s, want star-etl", cfg.Service.Name)
	}
	if cfg.Service.HealthPort != 8094 {
		t.Errorf("Service.HealthPort = %d, want 8094", cfg.Service.HealthPort)
	}
	if cfg.Source.Port != 5432 {
		t.Errorf("Source.Port = %d, want 5432", cfg.Source.Port)
	}
	if cfg.Source.SSLMode != "disable" {
		t.Errorf("Source.SSLMode = %s, want disable", cfg.Source.SSLMode)
	}
	if cfg.ETL.BatchSize != 5000 {
		t.Errorf("ETL.BatchSize = %d, want 5000", cfg.ETL.BatchSize)
	}
	if cfg.ETL.Workers != 4 {
		t.Errorf("ETL.Workers = %d, want 4", cfg.ETL.Workers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("LoadConfig() error = nil, want error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing source host", func(c *Config) { c.Source.Host = "" }, true},
		{"missing source database", func(c *Config) { c.Source.Database = "" }, true},
		{"missing warehouse host", func(c *Config) { c.Warehouse.Host = "" }, true},
		{"missing warehouse database", func(c *Config) { c.Warehouse.Database = "" }, true},
		{"batch size below minimum", func(c *Config) { c.ETL.BatchSize = 999 }, true},
		{"batch size at minimum", func(c *Config) { c.ETL.BatchSize = 1000 }, false},
		{"batch size at maximum", func(c *Config) { c.ETL.BatchSize = 10000 }, false},
		{"batch size above maximum", func(c *Config) { c.ETL.BatchSize = 10001 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, minimalConfig))
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnectionString(t *testing.T) {
	p := PostgresConfig{
		Host: "db", Port: 5433, Database: "lending",
		User: "etl", Password: "secret", SSLMode: "require",
	}
	want := "host=db port=5433 user=etl password=secret dbname=lending sslmode=require"
	if got := p.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
