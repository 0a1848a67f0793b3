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

package sdk

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"relayhub/platform/connectors/base"
)

// MockConnector provides a mock implementation for testing
type MockConnector struct {
	name         string
	connType     string
	version      string
	capabilities []string
	actions      []base.ActionSpec
	connected    bool

	queryResult   *base.QueryResult
	queryError    error
	executeResult *base.CommandResult
	executeError  error
	healthStatus  *base.HealthStatus
	connectError  error

	connectCalls    []*base.ConnectorConfig
	disconnectCalls int
	queryCalls      []*base.Query
	executeCalls    []*base.Command

	onQuery   func(context.Context, *base.Query) (*base.QueryResult, error)
	onExecute func(context.Context, *base.Command) (*base.CommandResult, error)

	mu sync.RWMutex
}

// NewMockConnector creates a new mock connector
func NewMockConnector(name, connType string) *MockConnector {
	return &MockConnector{
		name:         name,
		connType:     connType,
		version:      "1.0.0-mock",
		capabilities: []string{"query", "execute"},
		queryResult:  &base.QueryResult{Rows: []map[string]interface{}{}, Connector: name},
		executeResult: &base.CommandResult{
			Success:   true,
			Connector: name,
			Data:      map[string]interface{}{},
		},
		healthStatus: &base.HealthStatus{Healthy: true, Timestamp: time.Now()},
	}
}

// Connect implements base.Connector
func (m *MockConnector) Connect(ctx context.Context, config *base.ConnectorConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectCalls = append(m.connectCalls, config)
	if m.connectError != nil {
		return m.connectError
	}
	m.connected = true
	if config != nil && config.Name != "" {
		m.name = config.Name
	}
	return nil
}

// Disconnect implements base.Connector
func (m *MockConnector) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
	m.connected = false
	return nil
}

// HealthCheck implements base.Connector
func (m *MockConnector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthStatus, nil
}

// Query implements base.Connector
func (m *MockConnector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	m.mu.Lock()
	m.queryCalls = append(m.queryCalls, query)
	fn, result, err := m.onQuery, m.queryResult, m.queryError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, query)
	}
	return result, err
}

// Execute implements base.Connector
func (m *MockConnector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	m.mu.Lock()
	m.executeCalls = append(m.executeCalls, cmd)
	fn, result, err := m.onExecute, m.executeResult, m.executeError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, cmd)
	}
	return result, err
}

func (m *MockConnector) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

func (m *MockConnector) Type() string           { return m.connType }
func (m *MockConnector) Version() string        { return m.version }
func (m *MockConnector) Capabilities() []string { return m.capabilities }

// Actions implements base.ActionDescriber
func (m *MockConnector) Actions() []base.ActionSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.actions
}

// SetActions sets the published action catalog
func (m *MockConnector) SetActions(actions ...base.ActionSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = actions
}

// SetQueryResult sets the result returned by Query
func (m *MockConnector) SetQueryResult(result *base.QueryResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryResult = result
}

// SetQueryError sets the error returned by Query
func (m *MockConnector) SetQueryError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryError = err
}

// SetExecuteResult sets the result returned by Execute
func (m *MockConnector) SetExecuteResult(result *base.CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeResult = result
}

// SetExecuteError sets the error returned by Execute
func (m *MockConnector) SetExecuteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeError = err
}

// SetHealthStatus sets the status returned by HealthCheck
func (m *MockConnector) SetHealthStatus(status *base.HealthStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthStatus = status
}

// SetConnectError makes Connect fail
func (m *MockConnector) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectError = err
}

// SetOnQuery installs a custom Query implementation
func (m *MockConnector) SetOnQuery(fn func(context.Context, *base.Query) (*base.QueryResult, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onQuery = fn
}

// SetOnExecute installs a custom Execute implementation
func (m *MockConnector) SetOnExecute(fn func(context.Context, *base.Command) (*base.CommandResult, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExecute = fn
}

// GetConnectCalls returns the configs passed to Connect
func (m *MockConnector) GetConnectCalls() []*base.ConnectorConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*base.ConnectorConfig(nil), m.connectCalls...)
}

// GetQueryCalls returns the queries received
func (m *MockConnector) GetQueryCalls() []*base.Query {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*base.Query(nil), m.queryCalls...)
}

// GetExecuteCalls returns the commands received
func (m *MockConnector) GetExecuteCalls() []*base.Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*base.Command(nil), m.executeCalls...)
}

// GetDisconnectCalls returns how often Disconnect was called
func (m *MockConnector) GetDisconnectCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disconnectCalls
}

// IsConnected returns the connection state
func (m *MockConnector) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// TestHarness bundles helpers for connector tests
type TestHarness struct {
	t   *testing.T
	ctx context.Context
}

// NewTestHarness creates a harness whose context is cancelled when the test ends
func NewTestHarness(t *testing.T) *TestHarness {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return &TestHarness{t: t, ctx: ctx}
}

// Context returns the harness context
func (h *TestHarness) Context() context.Context {
	return h.ctx
}

// NewConfig returns a config pointed at a local test server. Private IPs
// are allowed so httptest servers pass URL validation.
func (h *TestHarness) NewConfig(connType, serverURL string, creds map[string]string) *base.ConnectorConfig {
	return &base.ConnectorConfig{
		Name:          "test-" + connType,
		Type:          connType,
		ConnectionURL: serverURL,
		Credentials:   creds,
		Options:       map[string]interface{}{"allow_private_ips": true},
		Timeout:       5 * time.Second,
		MaxRetries:    -1,
	}
}

// Connect connects c or fails the test, and disconnects at cleanup
func (h *TestHarness) Connect(c base.Connector, cfg *base.ConnectorConfig) {
	h.t.Helper()
	if err := c.Connect(h.ctx, cfg); err != nil {
		h.t.Fatalf("Connect failed: %v", err)
	}
	h.t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
}

// Query runs a read action or fails the test
func (h *TestHarness) Query(c base.Connector, action string, params map[string]interface{}) *base.QueryResult {
	h.t.Helper()
	res, err := c.Query(h.ctx, &base.Query{Statement: action, Parameters: params})
	if err != nil {
		h.t.Fatalf("%s failed: %v", action, err)
	}
	return res
}

// Execute runs a write action or fails the test
func (h *TestHarness) Execute(c base.Connector, action string, params map[string]interface{}) *base.CommandResult {
	h.t.Helper()
	res, err := c.Execute(h.ctx, &base.Command{Action: action, Parameters: params})
	if err != nil {
		h.t.Fatalf("%s failed: %v", action, err)
	}
	return res
}

// AssertErrorContains fails the test unless err mentions msg
func (h *TestHarness) AssertErrorContains(err error, msg string) {
	h.t.Helper()
	if err == nil {
		h.t.Fatalf("expected error containing %q, got nil", msg)
	}
	if !strings.Contains(err.Error(), msg) {
		h.t.Fatalf("expected error containing %q, got %q", msg, err.Error())
	}
}
