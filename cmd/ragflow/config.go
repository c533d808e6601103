package main

import (
	"time"

	"github.com/kbukum/ragflow/config"
	"github.com/kbukum/ragflow/llm/ollama"
	"github.com/kbukum/ragflow/search"
	"github.com/kbukum/ragflow/server"
	"github.com/kbukum/ragflow/storage/postgres"
)

// Config is the full service configuration, loaded from
// cmd/ragflow/config.yml with environment variable overrides.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Postgres   postgres.Config         `yaml:"postgres" mapstructure:"postgres"`
	Ollama     ollama.Config           `yaml:"ollama" mapstructure:"ollama"`
	Server     server.Config           `yaml:"server" mapstructure:"server"`
	Retrieval  search.Settings         `yaml:"retrieval" mapstructure:"retrieval"`
	Generation search.GenerationConfig `yaml:"generation" mapstructure:"generation"`
	Telemetry  TelemetryConfig         `yaml:"telemetry" mapstructure:"telemetry"`
}

// TelemetryConfig controls the OTLP exporters. Disabled by default so
// local runs do not need a collector.
type TelemetryConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure   bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRate float64       `yaml:"sample_rate" mapstructure:"sample_rate"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval"`
}

// ApplyDefaults fills zero values across all sections.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.ServiceConfig.ApplyDefaults()
	c.Postgres.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Retrieval.ApplyDefaults()
	c.Generation.ApplyDefaults()
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4318"
		c.Telemetry.Insecure = true
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}
}
