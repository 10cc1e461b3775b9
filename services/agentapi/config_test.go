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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "OPENAI_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Empty(t, cfg.Postgres.DSN)
	assert.Empty(t, cfg.Neo4j.URI)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9100
llm:
  model: gpt-4o-mini
  timeout: 45s
neo4j:
  uri: bolt://graph:7687
  database: cdr
`), 0o600))
	t.Setenv("POSTGRES_DSN", "postgres://u:p@db/cdr?sslmode=disable")
	t.Setenv("NEO4J_USER", "analyst")
	t.Setenv("NEO4J_PASSWORD", "secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "bolt://graph:7687", cfg.Neo4j.URI)
	assert.Equal(t, "analyst", cfg.Neo4j.User)
	assert.Equal(t, "cdr", cfg.Neo4j.Database)
	assert.Equal(t, "postgres://u:p@db/cdr?sslmode=disable", cfg.Postgres.DSN)
	assert.Equal(t, "secret", cfg.Neo4jPassword())
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Run("bad port env", func(t *testing.T) {
		t.Setenv("AGENTS_PORT", "eighty")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "AGENTS_PORT")
	})
	t.Run("port out of range", func(t *testing.T) {
		t.Setenv("AGENTS_PORT", "70000")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "Port")
	})
	t.Run("bad base url", func(t *testing.T) {
		t.Setenv("OPENAI_BASE_URL", "not a url")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "BaseURL")
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
