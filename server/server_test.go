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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/platform/chains"
	"relayhub/platform/connectors/action"
	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/registry"
	"relayhub/platform/connectors/sdk"
)

const testSecret = "test-secret"

func crmFactory() base.Connector {
	m := sdk.NewMockConnector("crm", "crm")
	m.SetActions(
		base.Read("list_contacts", "List contacts in a list", "list_id"),
		base.Write("create_contact", "Create a contact", "email"),
	)
	m.SetOnQuery(func(ctx context.Context, q *base.Query) (*base.QueryResult, error) {
		if base.GetString(q.Parameters, "list_id", "") == "throttled" {
			return nil, base.NewConnectorError("crm", "Query", "request failed",
				base.NewAPIError(http.MethodGet, "https://crm.example.com/contacts", http.StatusTooManyRequests, []byte(`{"error":"slow down"}`)))
		}
		return &base.QueryResult{Rows: []map[string]interface{}{
			{"email": "ada@example.com", "tenant": sdk.GetTenantID(ctx)},
		}}, nil
	})
	m.SetOnExecute(func(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
		return &base.CommandResult{Success: true, RowsAffected: 1, Data: map[string]interface{}{"id": "c-1"}}, nil
	})
	return m
}

type staticSecrets map[string]map[string]string

func (s staticSecrets) Resolve(ctx context.Context, inline map[string]string, ref string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range s[ref] {
		out[k] = v
	}
	for k, v := range inline {
		out[k] = v
	}
	return out, nil
}

type fixture struct {
	server *Server
	reg    *registry.Registry
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	reg := registry.New(registry.WithCredentialSource(staticSecrets{"crm/prod": {"token": "secret"}}))
	reg.RegisterFactory("crm", crmFactory)
	t.Cleanup(func() { reg.Close(context.Background()) })

	if opts.Gatherer == nil {
		promReg := prometheus.NewRegistry()
		require.NoError(t, RegisterMetrics(promReg))
		opts.Gatherer = promReg
	}
	svc := chains.NewService(chains.NewBuilder())
	return &fixture{server: New(action.NewRunner(reg), svc, opts), reg: reg}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDIsPropagated(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodPost, "/api/v1/connectors/crm/actions/list_contacts",
		ActionRequest{Params: map[string]interface{}{"list_id": "l-1"}},
		map[string]string{RequestIDHeader: "req-123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-123", decode(t, rec)["request_id"])
}

func TestListAndDescribeConnectors(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodGet, "/api/v1/connectors", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	connectors := decode(t, rec)["connectors"].([]interface{})
	require.Len(t, connectors, 1)
	assert.Equal(t, "crm", connectors[0].(map[string]interface{})["type"])

	rec = f.do(t, http.MethodGet, "/api/v1/connectors/crm/actions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info action.ConnectorInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Len(t, info.Actions, 2)
	assert.Equal(t, "create_contact", info.Actions[0].Name)

	rec = f.do(t, http.MethodGet, "/api/v1/connectors/nope/actions", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunAction(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/v1/connectors/crm/actions/list_contacts",
		ActionRequest{Params: map[string]interface{}{"list_id": "l-1"}},
		map[string]string{TenantIDHeader: "acme"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp action.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Equal(t, 1, resp.RowCount)
	assert.Equal(t, "acme", resp.Rows[0]["tenant"])

	rec = f.do(t, http.MethodPost, "/api/v1/connectors/crm/actions/create_contact",
		ActionRequest{Params: map[string]interface{}{"email": "ada@example.com"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "c-1", decode(t, rec)["data"].(map[string]interface{})["id"])
}

func TestRunActionErrors(t *testing.T) {
	f := newFixture(t, Options{})
	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		want   string
	}{
		{"missing param", "/api/v1/connectors/crm/actions/list_contacts", ActionRequest{}, http.StatusBadRequest, "list_id"},
		{"unknown action", "/api/v1/connectors/crm/actions/drop_all", ActionRequest{}, http.StatusBadRequest, "unknown action"},
		{"unknown type", "/api/v1/connectors/ledger/actions/list", ActionRequest{}, http.StatusNotFound, "unknown connector type"},
		{"unknown profile", "/api/v1/connectors/crm/actions/list_contacts", ActionRequest{Profile: "missing"}, http.StatusNotFound, "not found"},
		{"upstream failure", "/api/v1/connectors/crm/actions/list_contacts",
			ActionRequest{Params: map[string]interface{}{"list_id": "throttled"}}, http.StatusBadGateway, "slow down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, decode(t, rec)["error"], tt.want)
		})
	}
}

func TestUpstreamErrorCarriesStatusAndBody(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodPost, "/api/v1/connectors/crm/actions/list_contacts",
		ActionRequest{Params: map[string]interface{}{"list_id": "throttled"}}, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusTooManyRequests, resp.UpstreamStatus)
	assert.Equal(t, `{"error":"slow down"}`, resp.UpstreamBody)
	assert.NotEmpty(t, resp.RequestID)
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/connectors/crm/actions/list_contacts", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON body")
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t, Options{JWTSecret: testSecret})
	path := "/api/v1/connectors/crm/actions/list_contacts"
	body := ActionRequest{Params: map[string]interface{}{"list_id": "l-1"}, TenantID: "spoofed"}

	rec := f.do(t, http.MethodPost, path, body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "bearer token required")

	rec = f.do(t, http.MethodPost, path, body, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, path, body, map[string]string{"Authorization": token(t, jwt.MapClaims{"sub": "u-1"})})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "tenant_id")

	rec = f.do(t, http.MethodPost, path, body, map[string]string{"Authorization": token(t, jwt.MapClaims{"tenant_id": "acme"})})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp action.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acme", resp.Rows[0]["tenant"])

	rec = f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRejectsOtherSigningMethods(t *testing.T) {
	f := newFixture(t, Options{JWTSecret: testSecret})
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"tenant_id": "acme"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	rec := f.do(t, http.MethodGet, "/api/v1/connectors", nil, map[string]string{"Authorization": "Bearer " + signed})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProfiles(t *testing.T) {
	f := newFixture(t, Options{JWTSecret: testSecret})
	auth := map[string]string{"Authorization": token(t, jwt.MapClaims{"tenant_id": "acme"})}

	rec := f.do(t, http.MethodPost, "/api/v1/profiles", ProfileRequest{
		Name:          "crm-main",
		Type:          "crm",
		Credentials:   map[string]string{"token": "t"},
		CredentialRef: "crm/prod",
		TenantID:      "other",
	}, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "acme", decode(t, rec)["tenant_id"])

	cfg, err := f.reg.Config("crm-main")
	require.NoError(t, err)
	assert.Equal(t, "crm/prod", cfg.Options[base.CredentialRefOption])

	rec = f.do(t, http.MethodPost, "/api/v1/profiles", ProfileRequest{Name: "crm-main", Type: "crm"}, auth)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/profiles", ProfileRequest{Name: "x", Type: "ledger"}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/profiles", ProfileRequest{Type: "crm"}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, f.reg.Register(context.Background(), "crm-other", &base.ConnectorConfig{Type: "crm", TenantID: "globex"}))

	rec = f.do(t, http.MethodGet, "/api/v1/profiles", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	profiles := decode(t, rec)["profiles"].([]interface{})
	require.Len(t, profiles, 1)
	assert.Equal(t, "crm-main", profiles[0].(map[string]interface{})["name"])

	rec = f.do(t, http.MethodPost, "/api/v1/connectors/crm/actions/list_contacts",
		ActionRequest{Profile: "crm-other", Params: map[string]interface{}{"list_id": "l-1"}}, auth)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/connectors/crm/actions/list_contacts",
		ActionRequest{Profile: "crm-main", Params: map[string]interface{}{"list_id": "l-1"}}, auth)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRunChain(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodPost, "/api/v1/chains/run", chains.RunRequest{
		Config: chains.Config{
			ChainType: chains.TypeLLM,
			LLM:       &chains.LLMConfig{Provider: "fake", Responses: []string{"bonjour"}},
			Prompt:    &chains.PromptConfig{Template: "Translate {word}"},
		},
		Inputs: map[string]interface{}{"word": "hello"},
	}, map[string]string{RequestIDHeader: "req-9"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp chains.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bonjour", resp.Outputs["text"])
	assert.Equal(t, "req-9", resp.RequestID)
	assert.Equal(t, chains.TypeLLM, resp.ChainType)
}

func TestRunChainErrors(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/v1/chains/run", chains.RunRequest{
		Config: chains.Config{ChainType: "mystery"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/chains/run", chains.RunRequest{
		Config: chains.Config{
			ChainType: chains.TypeLLM,
			LLM:       &chains.LLMConfig{Provider: "fake"},
			Prompt:    &chains.PromptConfig{Template: "{question}"},
		},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "question")
}

func TestRunChainWithoutService(t *testing.T) {
	reg := registry.New()
	t.Cleanup(func() { reg.Close(context.Background()) })
	s := New(action.NewRunner(reg), nil, Options{Gatherer: prometheus.NewRegistry()})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chains/run", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	f.do(t, http.MethodGet, "/api/v1/connectors", nil, nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relayhub_http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/api/v1/connectors"`)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodGet, "/health", nil, map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	f = newFixture(t, Options{CORSOrigins: []string{"https://app.example.com"}})
	rec = f.do(t, http.MethodGet, "/health", nil, map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestShutdownBeforeListen(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.server.Shutdown(context.Background()))
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitedWrite(t *testing.T) {
	f := newFixture(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/connectors/crm/actions/list_contacts", nil)
	rec := httptest.NewRecorder()
	f.server.writeError(rec, req, &sdk.RateLimitError{Message: "slow down", RetryAfter: 1500 * time.Millisecond})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, decode(t, rec)["error"], "slow down")
}

func TestRejectsRedirectedCredentials(t *testing.T) {
	f := newFixture(t, Options{})
	tests := []struct {
		name string
		path string
		body interface{}
		want string
	}{
		{"action ref with connection_url", "/api/v1/connectors/crm/actions/list_contacts", ActionRequest{
			Params:        map[string]interface{}{"list_id": "l-1"},
			CredentialRef: "crm/prod",
			ConnectionURL: "https://attacker.example.com",
		}, "cannot be combined with credential_ref"},
		{"action private ips option", "/api/v1/connectors/crm/actions/list_contacts", ActionRequest{
			Params:  map[string]interface{}{"list_id": "l-1"},
			Options: map[string]interface{}{"allow_private_ips": true},
		}, "allow_private_ips"},
		{"profile ref with base_url", "/api/v1/profiles", ProfileRequest{
			Name:          "crm-redirect",
			Type:          "crm",
			CredentialRef: "crm/prod",
			Options:       map[string]interface{}{"base_url": "https://attacker.example.com"},
		}, "cannot be combined with credential_ref"},
		{"profile private ips option", "/api/v1/profiles", ProfileRequest{
			Name:    "crm-internal",
			Type:    "crm",
			Options: map[string]interface{}{"allow_private_ips": true},
		}, "allow_private_ips"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, decode(t, rec)["error"], tt.want)
		})
	}
	_, err := f.reg.Config("crm-redirect")
	assert.Error(t, err, "rejected profiles are not registered")
}

func TestOversizedUpstreamIsBadGateway(t *testing.T) {
	err := sdk.NonRetryable(fmt.Errorf("%w: GET https://crm/contacts exceeded 8 bytes", sdk.ErrResponseTooLarge))
	assert.Equal(t, http.StatusBadGateway, StatusFor(err))
}
