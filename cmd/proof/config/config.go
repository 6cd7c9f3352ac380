// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the proof CLI's YAML configuration.
//
// Values are layered: DefaultConfig, then the YAML file (if any), then
// environment overrides. The result is validated before use.
//
// Example file:
//
//	server:
//	  port: 12310
//	  gin_mode: release
//	store:
//	  backend: badger
//	  data_dir: ./data/proof
//	instability:
//	  enabled: true
//	  min_delay: 200ms
//	  max_delay: 900ms
//	  failure_rate: 0.02
//	rate_limit:
//	  rps: 50
//	  burst: 20
//	telemetry:
//	  trace_exporter: otlp
//	  otlp_endpoint: localhost:4317
//	logging:
//	  level: info
//	  log_dir: ~/.proof/logs
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ProofMode/pkg/logging"
	"github.com/AleutianAI/ProofMode/services/proof"
	"github.com/AleutianAI/ProofMode/services/proof/instability"
	"github.com/AleutianAI/ProofMode/services/proof/telemetry"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// ProofConfig is the on-disk configuration.
type ProofConfig struct {
	Server      ServerConfig         `yaml:"server"`
	Store       StoreConfig          `yaml:"store"`
	Instability instability.Settings `yaml:"instability"`
	RateLimit   RateLimitConfig      `yaml:"rate_limit"`
	Telemetry   telemetry.Config     `yaml:"telemetry"`
	Logging     LoggingConfig        `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	GinMode         string        `yaml:"gin_mode"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	LogDir string `yaml:"log_dir"`
	JSON   bool   `yaml:"json"`
}

// DefaultConfig returns the configuration used when no file is given.
//
// The network simulation is enabled with its demo defaults; pass a file with
// `instability: {enabled: false}` for a quiet server.
func DefaultConfig() ProofConfig {
	return ProofConfig{
		Server: ServerConfig{
			Port:            proof.DefaultPort,
			GinMode:         "release",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend: proof.StoreMemory,
			DataDir: "./data/proof",
		},
		Instability: instability.DefaultSettings(),
		RateLimit:   RateLimitConfig{Burst: 20},
		Telemetry:   telemetry.DefaultConfig(),
		Logging:     LoggingConfig{Level: "info"},
	}
}

// Load reads the configuration at path.
//
// # Description
//
// Starts from DefaultConfig, overlays the YAML file, applies environment
// overrides, and validates. Keys missing from the file keep their defaults.
// An empty path skips the file.
//
// # Outputs
//
//   - ProofConfig: The merged configuration.
//   - error: File read or parse failures, or ErrInvalidConfig.
func Load(path string) (ProofConfig, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return ProofConfig{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return ProofConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return ProofConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ProofConfig{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment:
//
//   - PROOF_PORT: server.port
//   - PROOF_STORE: store.backend
//   - PROOF_DATA_DIR: store.data_dir
//   - PROOF_LOG_LEVEL: logging.level
//   - OTEL_EXPORTER_OTLP_ENDPOINT: telemetry.otlp_endpoint
func (c *ProofConfig) ApplyEnv() error {
	if v := os.Getenv("PROOF_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PROOF_PORT %q is not a number", ErrInvalidConfig, v)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("PROOF_STORE"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("PROOF_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("PROOF_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	return nil
}

// Validate checks field ranges. Telemetry exporter names are checked by
// telemetry.Init when the service starts.
func (c ProofConfig) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	switch c.Store.Backend {
	case proof.StoreMemory, proof.StoreBadger, proof.StoreBadgerInMem, proof.StoreSQLite:
	default:
		return fmt.Errorf("%w: store.backend %q (want memory, badger, badger-mem, or sqlite)", ErrInvalidConfig, c.Store.Backend)
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("%w: rate_limit values must not be negative", ErrInvalidConfig)
	}
	if err := c.Instability.Validate(); err != nil {
		return fmt.Errorf("%w: instability: %w", ErrInvalidConfig, err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LoggerConfig converts the logging section for logging.New.
func (c ProofConfig) LoggerConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.LogDir,
		Service: c.Telemetry.ServiceName,
		JSON:    c.Logging.JSON,
	}
}

// ServiceConfig converts the file layout to proof.Config.
func (c ProofConfig) ServiceConfig() proof.Config {
	return proof.Config{
		Port:            c.Server.Port,
		GinMode:         c.Server.GinMode,
		StoreBackend:    c.Store.Backend,
		DataDir:         c.Store.DataDir,
		Instability:     c.Instability,
		RateLimitRPS:    c.RateLimit.RPS,
		RateLimitBurst:  c.RateLimit.Burst,
		Telemetry:       c.Telemetry,
		ShutdownTimeout: c.Server.ShutdownTimeout,
	}
}
