// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

// Package config loads application configuration with koanf.
//
// Loading order (later layers override earlier ones):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config file: optional YAML file (config.yaml, or CONFIG_PATH)
//  3. Environment variables: SECTION_KEY maps to section.key
//
// Config is immutable after Load() and safe for concurrent read access.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	NATS      NATSConfig      `koanf:"nats"`
	MQTT      MQTTConfig      `koanf:"mqtt"`
	Forwarder ForwarderConfig `koanf:"forwarder"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	API       APIConfig       `koanf:"api"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = use runtime.NumCPU()
}

// NATSConfig holds the optional JetStream mirror publisher settings.
// When disabled, accepted uplinks are still stored and enriched; only the
// downstream event mirror is skipped.
type NATSConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	StreamName     string        `koanf:"stream_name"`
	SubjectPrefix  string        `koanf:"subject_prefix"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	PublishTimeout time.Duration `koanf:"publish_timeout"`
	RetentionDays  int           `koanf:"retention_days"`
}

// MQTTConfig holds the optional ChirpStack-compatible MQTT mirror settings.
type MQTTConfig struct {
	Enabled       bool   `koanf:"enabled"`
	BrokerURL     string `koanf:"broker_url"`
	ClientID      string `koanf:"client_id"`
	Username      string `koanf:"username"`
	Password      string `koanf:"password"`
	QoS           byte   `koanf:"qos"`
	ApplicationID string `koanf:"application_id"`
}

// ForwarderConfig holds the async ingest-to-enrichment handoff settings.
type ForwarderConfig struct {
	Workers        int           `koanf:"workers"`
	QueueSize      int           `koanf:"queue_size"`
	MaxRetries     int           `koanf:"max_retries"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// PipelineConfig holds enrichment orchestration settings.
type PipelineConfig struct {
	DecodeTimeout      time.Duration `koanf:"decode_timeout"`
	SweepInterval      time.Duration `koanf:"sweep_interval"`
	SweepBatchSize     int           `koanf:"sweep_batch_size"`
	RetryFailedUnpacks bool          `koanf:"retry_failed_unpacks"`

	GatewayOfflineAfter  time.Duration `koanf:"gateway_offline_after"`
	GatewaySweepInterval time.Duration `koanf:"gateway_sweep_interval"`
}

// APIConfig holds read API and webhook protection settings.
type APIConfig struct {
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	DefaultPageSize int           `koanf:"default_page_size"`
	MaxPageSize     int           `koanf:"max_page_size"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that would break startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.enabled is true")
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required when mqtt.enabled is true")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0-2, got %d", c.MQTT.QoS)
	}
	if c.Forwarder.Workers < 1 {
		return fmt.Errorf("forwarder.workers must be >= 1, got %d", c.Forwarder.Workers)
	}
	if c.Forwarder.QueueSize < 1 {
		return fmt.Errorf("forwarder.queue_size must be >= 1, got %d", c.Forwarder.QueueSize)
	}
	if c.Pipeline.DecodeTimeout <= 0 {
		return fmt.Errorf("pipeline.decode_timeout must be positive, got %s", c.Pipeline.DecodeTimeout)
	}
	if c.Pipeline.SweepBatchSize < 1 {
		return fmt.Errorf("pipeline.sweep_batch_size must be >= 1, got %d", c.Pipeline.SweepBatchSize)
	}
	return nil
}
