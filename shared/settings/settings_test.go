// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relayhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RELAYHUB_SERVER_ADDR", "RELAYHUB_SERVER_CORS_ORIGINS", "RELAYHUB_SERVER_JWT_SECRET",
		"RELAYHUB_HISTORY_BACKEND", "RELAYHUB_HISTORY_DIR", "RELAYHUB_OPENAI_API_KEY", "OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", s.Server.Addr)
	assert.Equal(t, []string{"*"}, s.Server.CORSOrigins)
	assert.Equal(t, 15*time.Second, s.Server.ShutdownTimeout)
	assert.Equal(t, HistoryFile, s.History.Backend)
	assert.Equal(t, "./data/history", s.History.Dir)
	assert.Equal(t, "env", s.Secrets.Provider)
	assert.True(t, s.Secrets.TenantScopedRefs)
	assert.Equal(t, "openai", s.LLM.Provider)
	assert.Equal(t, 64, s.Registry.PoolSize)
	assert.Zero(t, s.Connectors.TenantRateLimit)
	assert.Equal(t, 10, s.Connectors.TenantRateBurst)
	assert.Equal(t, 1000, s.Logging.QueueSize)
	assert.Equal(t, 2*time.Second, s.Logging.FlushInterval)
	assert.Empty(t, s.Logging.Endpoint)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
server:
  addr: ":7000"
  jwt_secret: s3cret
  cors_origins:
    - https://app.example.com
logging:
  endpoint: https://logs.example.com/v1/events
  batch_size: 10
  flush_interval: 5s
history:
  backend: redis
  redis_url: redis://localhost:6379/0
  ttl: 24h
openai:
  model: gpt-4o
llm:
  provider: Bedrock
bedrock:
  region: eu-west-1
  model: eu.anthropic.claude-sonnet-4-5-20250929-v1:0
connectors:
  file: /etc/relayhub/connectors.yaml
`)
	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", s.Server.Addr)
	assert.Equal(t, "s3cret", s.Server.JWTSecret)
	assert.Equal(t, []string{"https://app.example.com"}, s.Server.CORSOrigins)
	assert.Equal(t, "https://logs.example.com/v1/events", s.Logging.Endpoint)
	assert.Equal(t, 10, s.Logging.BatchSize)
	assert.Equal(t, 5*time.Second, s.Logging.FlushInterval)
	assert.Equal(t, HistoryRedis, s.History.Backend)
	assert.Equal(t, 24*time.Hour, s.History.TTL)
	assert.Equal(t, "gpt-4o", s.OpenAI.Model)
	assert.Equal(t, "bedrock", s.LLM.Provider)
	assert.Equal(t, "eu-west-1", s.Bedrock.Region)
	assert.Equal(t, "eu.anthropic.claude-sonnet-4-5-20250929-v1:0", s.Bedrock.Model)
	assert.Equal(t, "/etc/relayhub/connectors.yaml", s.Connectors.File)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "server:\n  addr: \":7000\"\n")
	t.Setenv("RELAYHUB_SERVER_ADDR", ":9090")
	t.Setenv("RELAYHUB_SERVER_CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("RELAYHUB_HISTORY_BACKEND", "MEMORY")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", s.Server.Addr)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, s.Server.CORSOrigins)
	assert.Equal(t, HistoryMemory, s.History.Backend)
}

func TestOpenAIKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-global")
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-global", s.OpenAI.APIKey)

	t.Setenv("RELAYHUB_OPENAI_API_KEY", "sk-relayhub")
	s, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-relayhub", s.OpenAI.APIKey)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown backend", "history:\n  backend: s3\n", "unknown history.backend"},
		{"redis without url", "history:\n  backend: redis\n", "history.redis_url is required"},
		{"file without dir", "history:\n  dir: \"\"\n", "history.dir is required"},
		{"unknown secrets", "secrets:\n  provider: vault\n", "unknown secrets.provider"},
		{"negative pool", "registry:\n  pool_size: -1\n", "pool_size"},
		{"negative tenant rate", "connectors:\n  tenant_rate_limit: -2\n", "tenant_rate_limit"},
		{"unknown llm provider", "llm:\n  provider: cohere\n", "unknown llm.provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeFile(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", "c", " "}))
	assert.Nil(t, splitList(nil))
}
