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

package base

import (
	"context"
	"time"
)

// Connector is implemented by every third-party service integration.
// Read actions go through Query, write actions through Execute.
type Connector interface {
	// Lifecycle
	Connect(ctx context.Context, config *ConnectorConfig) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Read actions (list, get, search)
	Query(ctx context.Context, query *Query) (*QueryResult, error)

	// Write actions (create, update, delete, send)
	Execute(ctx context.Context, cmd *Command) (*CommandResult, error)

	// Metadata
	Name() string           // Unique connector instance name
	Type() string           // Connector type (s3, notion, zoom, ...)
	Version() string        // Connector version
	Capabilities() []string // List of capabilities
}

// ActionDescriber is implemented by connectors that publish their action catalog.
type ActionDescriber interface {
	Actions() []ActionSpec
}

// ConnectorConfig holds the configuration for a connector instance
type ConnectorConfig struct {
	Name          string                 `json:"name" yaml:"name"`                     // Unique name for this connector
	Type          string                 `json:"type" yaml:"type"`                     // Connector type
	ConnectionURL string                 `json:"connection_url" yaml:"connection_url"` // Base URL or DSN override
	Credentials   map[string]string      `json:"credentials" yaml:"credentials"`       // Tokens, keys, secrets
	Options       map[string]interface{} `json:"options" yaml:"options"`               // Connector-specific options
	Timeout       time.Duration          `json:"timeout" yaml:"timeout"`               // Operation timeout
	MaxRetries    int                    `json:"max_retries" yaml:"max_retries"`       // Retries for idempotent calls
	TenantID      string                 `json:"tenant_id" yaml:"tenant_id"`           // For multi-tenancy isolation
}

// CredentialRefOption is the option key naming a secret reference that
// is resolved into Credentials when the connector is connected.
const CredentialRefOption = "credential_ref"

// Query represents a read action
type Query struct {
	Statement  string                 `json:"statement"`  // Action name, e.g. "list_events"
	Parameters map[string]interface{} `json:"parameters"` // Normalized action parameters
	Timeout    time.Duration          `json:"timeout"`    // Override default timeout
	Limit      int                    `json:"limit"`      // Result limit (optional)
}

// QueryResult contains the results of a Query operation
type QueryResult struct {
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"row_count"`
	Duration  time.Duration            `json:"duration"`
	Cached    bool                     `json:"cached"`
	Connector string                   `json:"connector"`
	Metadata  map[string]interface{}   `json:"metadata,omitempty"` // Pagination cursors and similar
}

// Command represents a write action
type Command struct {
	Action     string                 `json:"action"`     // Action name, e.g. "create_event"
	Statement  string                 `json:"statement"`  // Optional resource path
	Parameters map[string]interface{} `json:"parameters"` // Normalized action parameters
	Timeout    time.Duration          `json:"timeout"`    // Override default timeout
}

// CommandResult contains the results of a Command execution
type CommandResult struct {
	Success      bool                   `json:"success"`
	RowsAffected int                    `json:"rows_affected"`
	Duration     time.Duration          `json:"duration"`
	Message      string                 `json:"message"`
	Connector    string                 `json:"connector"`
	Data         map[string]interface{} `json:"data,omitempty"` // Parsed service response
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// HealthStatus represents the health of a connector
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Latency   time.Duration     `json:"latency"`
	Details   map[string]string `json:"details"`
	Timestamp time.Time         `json:"timestamp"`
	Error     string            `json:"error"`
}
