// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the orchestrator service configuration.
//
// Precedence, lowest first: built-in defaults, the YAML file, environment
// variables. The merged result is validated before use.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/archive"
	"github.com/AleutianAI/AleutianInvestigate/services/investigate/pipeline"
	"github.com/AleutianAI/AleutianInvestigate/services/telemetry"
)

const (
	// DefaultPort is the orchestrator's listen port.
	DefaultPort = 12220

	// DefaultAgentsURL is where the agent service listens by default.
	DefaultAgentsURL = "http://localhost:8000"

	// DefaultMaxConversations bounds the in-memory conversation store.
	DefaultMaxConversations = 1000

	// DefaultRateLimitRPS and DefaultRateLimitBurst size the per-process
	// token bucket in front of the investigate endpoints.
	DefaultRateLimitRPS   = 5.0
	DefaultRateLimitBurst = 10
)

// Config is the full orchestrator configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Agents    AgentsConfig     `yaml:"agents"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Memory    MemoryConfig     `yaml:"memory"`
	Archive   archive.Config   `yaml:"archive"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port           int     `yaml:"port" validate:"min=1,max=65535"`
	Debug          bool    `yaml:"debug"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" validate:"gte=0"`
}

// AgentsConfig locates the agent service.
type AgentsConfig struct {
	BaseURL     string        `yaml:"base_url" validate:"required,url"`
	CallTimeout time.Duration `yaml:"call_timeout" validate:"gt=0"`
	Paths       agents.Paths  `yaml:"paths"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	MaxClarificationRounds int `yaml:"max_clarification_rounds" validate:"min=1,max=20"`
}

// MemoryConfig bounds conversation memory.
type MemoryConfig struct {
	// MaxConversations evicts least recently active conversations beyond
	// this count. Zero means unbounded.
	MaxConversations int `yaml:"max_conversations" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           DefaultPort,
			RateLimitRPS:   DefaultRateLimitRPS,
			RateLimitBurst: DefaultRateLimitBurst,
		},
		Agents: AgentsConfig{
			BaseURL:     DefaultAgentsURL,
			CallTimeout: agents.DefaultCallTimeout,
			Paths:       agents.DefaultPaths(),
		},
		Pipeline: PipelineConfig{
			MaxClarificationRounds: pipeline.DefaultMaxClarificationRounds,
		},
		Memory: MemoryConfig{
			MaxConversations: DefaultMaxConversations,
		},
		Archive: archive.Config{
			TTL: archive.DefaultTTL,
		},
		Telemetry: telemetry.DefaultConfig("aleutian-investigate"),
	}
}

// Load builds the configuration from path (optional) and the environment.
//
// # Description
//
// An empty path skips the file. A missing file at a non-empty path is an
// error. Fields absent from the file keep their defaults.
//
// # Outputs
//
//   - *Config: Validated configuration.
//   - error: File, parse, environment, or validation failure.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		slog.Debug("config: loaded file", slog.String("path", path))
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from INVESTIGATE_* and telemetry variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("INVESTIGATE_AGENTS_URL"); v != "" {
		c.Agents.BaseURL = v
	}
	if v := os.Getenv("INVESTIGATE_ARCHIVE_DIR"); v != "" {
		c.Archive.Path = v
	}
	if v := os.Getenv("INVESTIGATE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: INVESTIGATE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("INVESTIGATE_MAX_CLARIFICATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: INVESTIGATE_MAX_CLARIFICATIONS: %w", err)
		}
		c.Pipeline.MaxClarificationRounds = n
	}
	if v := os.Getenv("INVESTIGATE_CALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: INVESTIGATE_CALL_TIMEOUT: %w", err)
		}
		c.Agents.CallTimeout = d
	}
	c.Telemetry.ApplyEnv()
	return nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("config: invalid %s (rule %q, value %v)", first.Namespace(), first.Tag(), first.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ArchiveEnabled reports whether results should be persisted.
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.Path != "" || c.Archive.InMemory
}

// ClientConfig converts the agents section for agents.NewClient.
func (c *Config) ClientConfig(logger *slog.Logger) agents.ClientConfig {
	return agents.ClientConfig{
		BaseURL:     c.Agents.BaseURL,
		CallTimeout: c.Agents.CallTimeout,
		Paths:       c.Agents.Paths,
		Logger:      logger,
	}
}
