// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sensemy/config.yaml",
	"/etc/sensemy/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values. These are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8820,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/sensemy.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			StreamName:     "UPLINKS",
			SubjectPrefix:  "uplinks",
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
			RetentionDays:  7,
		},
		MQTT: MQTTConfig{
			Enabled:       false,
			BrokerURL:     "tcp://127.0.0.1:1883",
			ClientID:      "sensemy-pipeline",
			QoS:           0,
			ApplicationID: "sensemy",
		},
		Forwarder: ForwarderConfig{
			Workers:        4,
			QueueSize:      1024,
			MaxRetries:     5,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
		},
		Pipeline: PipelineConfig{
			DecodeTimeout:        5 * time.Second,
			SweepInterval:        30 * time.Second,
			SweepBatchSize:       100,
			RetryFailedUnpacks:   false,
			GatewayOfflineAfter:  30 * time.Minute,
			GatewaySweepInterval: 5 * time.Minute,
		},
		API: APIConfig{
			RateLimitReqs:   300,
			RateLimitWindow: 1 * time.Minute,
			CORSOrigins:     []string{"*"},
			DefaultPageSize: 50,
			MaxPageSize:     500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration with precedence ENV > file > defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Env vars come in as strings; known slice fields need splitting.
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches CONFIG_PATH then the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// configSections are the recognized env var prefixes. SERVER_PORT maps to
// server.port, PIPELINE_DECODE_TIMEOUT to pipeline.decode_timeout, and so on.
var configSections = []string{
	"server", "database", "nats", "mqtt", "forwarder", "pipeline", "api", "logging",
}

// envAliases maps short legacy variable names onto config paths.
var envAliases = map[string]string{
	"duckdb_path": "database.path",
	"http_port":   "server.port",
	"log_level":   "logging.level",
	"nats_url":    "nats.url",
}

// envTransformFunc transforms environment variable names to koanf config
// paths. Variables that match neither an alias nor a known section prefix
// are dropped so unrelated environment noise cannot leak into the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	if path, ok := envAliases[key]; ok {
		return path
	}

	for _, section := range configSections {
		prefix := section + "_"
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			return section + "." + key[len(prefix):]
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when they arrive as env var strings.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		str, ok := val.(string)
		if !ok {
			// Already a slice from YAML or defaults.
			continue
		}

		parts := strings.Split(str, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
