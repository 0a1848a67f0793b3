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

package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/platform/chains"
	"relayhub/platform/chains/memory"
	"relayhub/platform/common/usage"
	"relayhub/platform/shared/settings"
)

func testSettings(t *testing.T) *settings.Settings {
	t.Helper()
	return &settings.Settings{
		Logging:    settings.LoggingSettings{Timeout: time.Second, FlushInterval: time.Hour, BatchSize: 100},
		History:    settings.HistorySettings{Backend: settings.HistoryFile, Dir: t.TempDir()},
		Secrets:    settings.SecretsSettings{Provider: "local"},
		Registry:   settings.RegistrySettings{PoolSize: 4},
		Connectors: settings.ConnectorSettings{CacheTTL: time.Minute},
	}
}

func fakeChain() *chains.RunRequest {
	return &chains.RunRequest{
		Config: chains.Config{
			ChainType: chains.TypeConversation,
			LLM:       &chains.LLMConfig{Provider: "fake", Responses: []string{"Hi Ada!"}},
		},
		Inputs:   map[string]interface{}{"input": "Hello, I am Ada", chains.HistoryIDKey: "session-1"},
		TenantID: "acme",
	}
}

func TestNewWiresComponents(t *testing.T) {
	s := testSettings(t)
	app, err := New(context.Background(), s, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	assert.Contains(t, app.Registry.Types(), "notion")
	assert.Contains(t, app.Registry.Types(), "openai")
	_, err = app.Runner.Describe("s3")
	require.NoError(t, err)

	resp, err := app.Chains.Run(context.Background(), fakeChain())
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada!", resp.Outputs["response"])

	store, ok := app.History.(*memory.FileStore)
	require.True(t, ok)
	_, err = os.Stat(store.Path("session-1"))
	assert.NoError(t, err)
}

func TestUsageIsDrainedOnClose(t *testing.T) {
	var (
		mu     sync.Mutex
		events []usage.Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer log-key", r.Header.Get("Authorization"))
		var body struct {
			Events []usage.Event `json:"events"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		events = append(events, body.Events...)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	s := testSettings(t)
	s.Logging.Endpoint = srv.URL
	s.Logging.APIKey = "log-key"
	app, err := New(context.Background(), s, nil)
	require.NoError(t, err)

	_, err = app.Chains.Run(context.Background(), fakeChain())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, usage.TypeChainRun, events[0].Type)
	assert.Equal(t, "acme", events[0].TenantID)
	assert.Equal(t, usage.TypeLLMRequest, events[1].Type)
	assert.Equal(t, int64(2), app.Reporter.Stats().Sent)
}

func TestProfilesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1.0"
connectors:
  newsletter:
    type: brevo
    credentials:
      api_key: xkeysib-test
    tenant_id: acme
  broken-notion:
    type: notion
`), 0o600))

	s := testSettings(t)
	s.Connectors.File = path
	app, err := New(context.Background(), s, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	profiles := app.Registry.List("")
	require.Len(t, profiles, 1)
	assert.Equal(t, "newsletter", profiles[0].Name)
	assert.Equal(t, "acme", profiles[0].TenantID)
	assert.True(t, profiles[0].Connected)
}

func TestProfileFileMustParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connectors: {}\n"), 0o600))

	s := testSettings(t)
	s.Connectors.File = path
	_, err := New(context.Background(), s, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestHistoryBackends(t *testing.T) {
	mr := miniredis.RunT(t)

	s := testSettings(t)
	s.History = settings.HistorySettings{Backend: settings.HistoryRedis, RedisURL: "redis://" + mr.Addr()}
	app, err := New(context.Background(), s, nil)
	require.NoError(t, err)
	_, ok := app.History.(*memory.RedisStore)
	assert.True(t, ok)
	require.NoError(t, app.Close(context.Background()))

	s.History = settings.HistorySettings{Backend: settings.HistoryMemory}
	app, err = New(context.Background(), s, nil)
	require.NoError(t, err)
	_, ok = app.History.(*memory.InMemoryStore)
	assert.True(t, ok)
	require.NoError(t, app.Close(context.Background()))
}

func TestUnknownSecretsProvider(t *testing.T) {
	s := testSettings(t)
	s.Secrets.Provider = "vault"
	_, err := New(context.Background(), s, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secrets manager")
}
