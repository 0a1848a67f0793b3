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
	"sync"
	"time"

	"go.uber.org/zap"

	"relayhub/platform/connectors/base"
	"relayhub/platform/shared/logger"
)

// DefaultTimeout applies when a connector config sets no timeout.
const DefaultTimeout = 30 * time.Second

// Page is what a read handler returns.
type Page struct {
	Rows     []map[string]interface{}
	Metadata map[string]interface{}
}

// ReadHandler serves one read action.
type ReadHandler func(ctx context.Context, params map[string]interface{}) (*Page, error)

// WriteHandler serves one write action and returns the parsed service response.
type WriteHandler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// BaseConnector carries the lifecycle, configuration and dispatch logic
// shared by service connectors. Embed it and register handlers.
type BaseConnector struct {
	name         string
	connType     string
	version      string
	capabilities []string
	config       *base.ConnectorConfig
	connected    bool
	log          *zap.SugaredLogger
	rateLimiter  *RateLimiter
	validator    ConfigValidator
	metrics      *ConnectorMetrics
	actions      []base.ActionSpec
	mu           sync.RWMutex
}

// NewBaseConnector creates a new base connector with the given type
func NewBaseConnector(connType string) *BaseConnector {
	return &BaseConnector{
		connType:     connType,
		version:      "1.0.0",
		capabilities: []string{"query", "execute"},
		log:          logger.New("connectors").Sugared(connType),
		metrics:      NewConnectorMetrics(connType),
	}
}

// Connect validates and stores the configuration. Connectors call this
// first from their own Connect.
func (c *BaseConnector) Connect(ctx context.Context, config *base.ConnectorConfig) error {
	if config == nil {
		return base.NewConnectorError(c.connType, "Connect", "config cannot be nil", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.validator != nil {
		if err := c.validator.Validate(config); err != nil {
			return base.NewConnectorError(config.Name, "Connect", "configuration validation failed", err)
		}
		if dv, ok := c.validator.(*DefaultConfigValidator); ok {
			dv.ApplyDefaults(config)
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if perSecond := base.GetFloat(config.Options, "rate_limit", 0); perSecond > 0 && c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(perSecond, max(base.GetInt(config.Options, "rate_burst", 1), 1))
	}

	c.config = config
	c.name = config.Name
	c.connected = true
	c.metrics.RecordConnect()
	c.log.Infof("Connector initialized: %s (type: %s)", config.Name, c.connType)
	return nil
}

// Disconnect marks the connector as disconnected.
func (c *BaseConnector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	c.metrics.RecordDisconnect()
	c.log.Infof("Disconnected: %s", c.name)
	return nil
}

// HealthCheck reports connection state. Connectors override it to probe the service.
func (c *BaseConnector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &base.HealthStatus{
		Healthy:   c.connected,
		Timestamp: time.Now(),
		Details:   map[string]string{"connector_type": c.connType, "version": c.version},
	}
	if !c.connected {
		status.Error = "not connected"
	}
	return status, nil
}

// Probe runs fn and turns its outcome into a HealthStatus.
func (c *BaseConnector) Probe(ctx context.Context, fn func(ctx context.Context) error) (*base.HealthStatus, error) {
	status, _ := c.HealthCheck(ctx)
	if !status.Healthy {
		return status, nil
	}
	ctx, cancel := c.WithTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Healthy = false
		status.Error = err.Error()
	}
	return status, nil
}

// RunQuery dispatches a read action to its handler. It checks the
// connection, required parameters and rate limit, applies the timeout,
// records metrics and wraps failures in a ConnectorError.
func (c *BaseConnector) RunQuery(ctx context.Context, q *base.Query, handlers map[string]ReadHandler) (*base.QueryResult, error) {
	if q == nil {
		return nil, base.NewConnectorError(c.Name(), "Query", "query cannot be nil", nil)
	}
	handler, ok := handlers[q.Statement]
	if !ok {
		return nil, base.UnknownAction(c.Name(), "Query", q.Statement)
	}
	params, err := c.prepare(ctx, "Query", q.Statement, q.Parameters)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.timeoutFor(ctx, q.Timeout)
	defer cancel()

	start := time.Now()
	page, err := handler(ctx, params)
	duration := time.Since(start)
	c.metrics.RecordQuery(q.Statement, duration, err)
	if err != nil {
		c.log.Warnf("%s failed: %v", q.Statement, err)
		return nil, base.NewConnectorError(c.Name(), "Query", q.Statement+" failed", err)
	}
	if page == nil {
		page = &Page{}
	}

	rows := page.Rows
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return &base.QueryResult{
		Rows:      rows,
		RowCount:  len(rows),
		Duration:  duration,
		Connector: c.Name(),
		Metadata:  page.Metadata,
	}, nil
}

// RunCommand dispatches a write action to its handler.
func (c *BaseConnector) RunCommand(ctx context.Context, cmd *base.Command, handlers map[string]WriteHandler) (*base.CommandResult, error) {
	if cmd == nil {
		return nil, base.NewConnectorError(c.Name(), "Execute", "command cannot be nil", nil)
	}
	handler, ok := handlers[cmd.Action]
	if !ok {
		return nil, base.UnknownAction(c.Name(), "Execute", cmd.Action)
	}
	params, err := c.prepare(ctx, "Execute", cmd.Action, cmd.Parameters)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.timeoutFor(ctx, cmd.Timeout)
	defer cancel()

	start := time.Now()
	data, err := handler(ctx, params)
	duration := time.Since(start)
	c.metrics.RecordExecute(cmd.Action, duration, err)
	if err != nil {
		c.log.Warnf("%s failed: %v", cmd.Action, err)
		return nil, base.NewConnectorError(c.Name(), "Execute", cmd.Action+" failed", err)
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return &base.CommandResult{
		Success:      true,
		RowsAffected: rowsAffected(data),
		Duration:     duration,
		Message:      cmd.Action + " completed",
		Connector:    c.Name(),
		Data:         data,
	}, nil
}

func (c *BaseConnector) prepare(ctx context.Context, op, action string, params map[string]interface{}) (map[string]interface{}, error) {
	c.mu.RLock()
	connected := c.connected
	limiter := c.rateLimiter
	spec, hasSpec := base.FindAction(c.actions, action)
	c.mu.RUnlock()

	if !connected {
		return nil, base.NewConnectorError(c.Name(), op, "not connected", nil)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	if hasSpec {
		if err := spec.Validate(params); err != nil {
			return nil, base.NewConnectorError(c.Name(), op, err.Error(), err)
		}
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, base.NewConnectorError(c.Name(), op, "rate limit wait aborted", err)
		}
	}
	return params, nil
}

func (c *BaseConnector) timeoutFor(ctx context.Context, override time.Duration) (context.Context, context.CancelFunc) {
	if override > 0 {
		return context.WithTimeout(ctx, override)
	}
	return c.WithTimeout(ctx)
}

// rowsAffected reads a count from common response shapes.
func rowsAffected(data map[string]interface{}) int {
	for _, key := range []string{"rows_affected", "count", "deleted_count", "modified_count", "inserted_count"} {
		if n := base.GetInt(data, key, -1); n >= 0 {
			return n
		}
	}
	return 1
}

// Name returns the connector instance name
func (c *BaseConnector) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.name != "" {
		return c.name
	}
	return c.connType
}

// Type returns the connector type
func (c *BaseConnector) Type() string {
	return c.connType
}

// Version returns the connector version
func (c *BaseConnector) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Capabilities returns the list of supported capabilities
func (c *BaseConnector) Capabilities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities
}

// Actions returns the registered action catalog.
func (c *BaseConnector) Actions() []base.ActionSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]base.ActionSpec, len(c.actions))
	copy(out, c.actions)
	return out
}

// SetActions registers the action catalog used for parameter validation.
func (c *BaseConnector) SetActions(actions []base.ActionSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = actions
}

// SetLogger replaces the connector logger
func (c *BaseConnector) SetLogger(l *zap.SugaredLogger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = l
}

// Logger returns the connector logger
func (c *BaseConnector) Logger() *zap.SugaredLogger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log
}

// Log writes an info line through the connector logger
func (c *BaseConnector) Log(format string, args ...interface{}) {
	c.Logger().Infof(format, args...)
}

// SetRateLimiter sets the rate limiter
func (c *BaseConnector) SetRateLimiter(limiter *RateLimiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimiter = limiter
}

// SetValidator sets the configuration validator
func (c *BaseConnector) SetValidator(validator ConfigValidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validator = validator
}

// GetMetrics returns the connector metrics
func (c *BaseConnector) GetMetrics() *ConnectorMetrics {
	return c.metrics
}

// IsConnected returns the connection status
func (c *BaseConnector) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// GetConfig returns the connector configuration
func (c *BaseConnector) GetConfig() *base.ConnectorConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// SetCapabilities sets the connector capabilities
func (c *BaseConnector) SetCapabilities(caps []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capabilities = caps
}

// GetTimeout returns the configured timeout or default
func (c *BaseConnector) GetTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.config != nil && c.config.Timeout > 0 {
		return c.config.Timeout
	}
	return DefaultTimeout
}

// RetryConfig returns the retry policy derived from the config's MaxRetries:
// zero keeps the default, a negative value disables retries.
func (c *BaseConnector) RetryConfig() *RetryConfig {
	cfg := DefaultRetryConfig()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.config != nil {
		switch {
		case c.config.MaxRetries < 0:
			cfg.MaxRetries = 0
		case c.config.MaxRetries > 0:
			cfg.MaxRetries = c.config.MaxRetries
		}
	}
	return cfg
}

// GetOption retrieves an option value from config
func (c *BaseConnector) GetOption(key string, defaultValue interface{}) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.config == nil || c.config.Options == nil {
		return defaultValue
	}
	if val, ok := c.config.Options[key]; ok && val != nil {
		return val
	}
	return defaultValue
}

// GetStringOption retrieves a string option
func (c *BaseConnector) GetStringOption(key, defaultValue string) string {
	if s, ok := c.GetOption(key, defaultValue).(string); ok && s != "" {
		return s
	}
	return defaultValue
}

// GetIntOption retrieves an integer option
func (c *BaseConnector) GetIntOption(key string, defaultValue int) int {
	return base.GetInt(map[string]interface{}{key: c.GetOption(key, nil)}, key, defaultValue)
}

// GetBoolOption retrieves a boolean option
func (c *BaseConnector) GetBoolOption(key string, defaultValue bool) bool {
	return base.GetBool(map[string]interface{}{key: c.GetOption(key, nil)}, key, defaultValue)
}

// GetCredential retrieves a credential value
func (c *BaseConnector) GetCredential(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.config == nil || c.config.Credentials == nil {
		return ""
	}
	return c.config.Credentials[key]
}

// BaseURL returns the config's ConnectionURL, falling back to def.
// Overrides are SSRF-checked unless the allow_private_ips option is set.
func (c *BaseConnector) BaseURL(def string) (string, error) {
	cfg := c.GetConfig()
	if cfg == nil || cfg.ConnectionURL == "" {
		return def, nil
	}
	opts := base.DefaultURLValidationOptions()
	opts.AllowPrivateIPs = c.GetBoolOption("allow_private_ips", false)
	if err := base.ValidateURL(cfg.ConnectionURL, opts); err != nil {
		return "", base.NewConnectorError(cfg.Name, "Connect", "invalid connection URL", err)
	}
	return cfg.ConnectionURL, nil
}

// NewRESTClient builds a RESTClient using the connector's timeout and retry policy.
func (c *BaseConnector) NewRESTClient(baseURL string, auth AuthProvider) *RESTClient {
	client := NewRESTClient(baseURL, c.GetTimeout())
	client.Auth = auth
	client.Retry = c.RetryConfig()
	return client
}

// WithTimeout creates a context with the connector's configured timeout
func (c *BaseConnector) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.GetTimeout())
}
