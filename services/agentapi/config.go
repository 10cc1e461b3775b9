// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agentapi

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianInvestigate/services/llm"
	"github.com/AleutianAI/AleutianInvestigate/services/telemetry"
)

// DefaultPort is the agent service's listen port.
const DefaultPort = 8000

// Config is the agent service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	LLM       LLMConfig        `yaml:"llm"`
	Postgres  PostgresConfig   `yaml:"postgres"`
	Neo4j     Neo4jConfig      `yaml:"neo4j"`
	Memory    MemoryConfig     `yaml:"memory"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig controls the listener and request admission.
type ServerConfig struct {
	Port           int     `yaml:"port" validate:"min=1,max=65535"`
	Debug          bool    `yaml:"debug"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" validate:"gte=0"`
}

// LLMConfig selects the chat-completion backend.
//
// The API key is never read from the file; APIKeyEnv names the variable
// holding it.
type LLMConfig struct {
	Model     string        `yaml:"model" validate:"required"`
	BaseURL   string        `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv string        `yaml:"api_key_env" validate:"required"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
}

// PostgresConfig enables the structured executor. Empty DSN keeps the
// mock executor.
type PostgresConfig struct {
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout" validate:"gte=0"`
}

// Neo4jConfig enables the graph executor. Empty URI keeps the mock
// executor. The password is read from PasswordEnv.
type Neo4jConfig struct {
	URI         string `yaml:"uri"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
}

// MemoryConfig bounds the converser's conversation history.
type MemoryConfig struct {
	MaxConversations int `yaml:"max_conversations" validate:"gte=0"`
}

// DefaultConfig returns mock executors and an OpenAI backend.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           DefaultPort,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		LLM: LLMConfig{
			Model:     llm.DefaultOpenAIModel,
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   2 * time.Minute,
		},
		Postgres: PostgresConfig{
			QueryTimeout: 15 * time.Second,
		},
		Neo4j: Neo4jConfig{
			User:        "neo4j",
			PasswordEnv: "NEO4J_PASSWORD",
		},
		Memory: MemoryConfig{
			MaxConversations: 500,
		},
		Telemetry: telemetry.DefaultConfig("aleutian-investigate-agents"),
	}
}

// LoadConfig reads path (optional), applies environment overrides, and
// validates the result.
//
// Environment: AGENTS_PORT, OPENAI_MODEL, OPENAI_BASE_URL, POSTGRES_DSN,
// NEO4J_URI, NEO4J_USER, NEO4J_DATABASE, plus the telemetry variables.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("agentapi config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("agentapi config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("AGENTS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("agentapi config: AGENTS_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	setFromEnv(&cfg.LLM.Model, "OPENAI_MODEL")
	setFromEnv(&cfg.LLM.BaseURL, "OPENAI_BASE_URL")
	setFromEnv(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setFromEnv(&cfg.Neo4j.URI, "NEO4J_URI")
	setFromEnv(&cfg.Neo4j.User, "NEO4J_USER")
	setFromEnv(&cfg.Neo4j.Database, "NEO4J_DATABASE")
	cfg.Telemetry.ApplyEnv()

	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("agentapi config: invalid %s (rule %q)", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("agentapi config: %w", err)
	}
	return cfg, nil
}

func setFromEnv(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// Neo4jPassword reads the graph password from the configured variable.
func (c *Config) Neo4jPassword() string {
	if c.Neo4j.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Neo4j.PasswordEnv)
}
