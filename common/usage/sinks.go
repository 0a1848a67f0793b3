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

package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq" // postgres driver for OpenSQLSink

	"relayhub/platform/connectors/sdk"
	"relayhub/platform/shared/logger"
)

// HTTPSink POSTs batches as {"events": [...]} to a logging endpoint
type HTTPSink struct {
	client *sdk.RESTClient
}

// NewHTTPSink creates a sink for endpoint. apiKey, when set, is sent as a
// bearer token.
func NewHTTPSink(endpoint, apiKey string, timeout time.Duration) *HTTPSink {
	client := sdk.NewRESTClient(endpoint, timeout)
	if apiKey != "" {
		client.Auth = sdk.NewBearerTokenAuth(apiKey, time.Time{})
	}
	client.Retry = &sdk.RetryConfig{MaxRetries: 0}
	return &HTTPSink{client: client}
}

// Send posts the batch. Non-2xx responses return *base.APIError with the
// response body.
func (s *HTTPSink) Send(ctx context.Context, events []Event) error {
	_, err := s.client.Do(ctx, &sdk.Request{
		Method: http.MethodPost,
		JSON:   map[string]interface{}{"events": events},
	})
	return err
}

// Schema creates the table SQLSink writes to
const Schema = `CREATE TABLE IF NOT EXISTS usage_events (
	id                TEXT PRIMARY KEY,
	event_type        TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	tenant_id         TEXT,
	request_id        TEXT,
	connector         TEXT,
	action            TEXT,
	provider          TEXT,
	model             TEXT,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	cost_micros       BIGINT NOT NULL DEFAULT 0,
	latency_ms        BIGINT NOT NULL DEFAULT 0,
	success           BOOLEAN NOT NULL,
	error             TEXT,
	fields            JSONB
)`

const insertEvent = `INSERT INTO usage_events (
	id, event_type, created_at, tenant_id, request_id, connector, action,
	provider, model, prompt_tokens, completion_tokens, total_tokens,
	cost_micros, latency_ms, success, error, fields
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO NOTHING`

// SQLSink inserts events into usage_events, one transaction per batch
type SQLSink struct {
	db *sql.DB
}

// NewSQLSink wraps an open database
func NewSQLSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db}
}

// OpenSQLSink connects to PostgreSQL and ensures the table exists
func OpenSQLSink(ctx context.Context, dsn string) (*SQLSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create usage_events: %w", err)
	}
	return &SQLSink{db: db}, nil
}

// Send writes the batch atomically
func (s *SQLSink) Send(ctx context.Context, events []Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		var fields []byte
		if len(e.Fields) > 0 {
			if fields, err = json.Marshal(e.Fields); err != nil {
				return fmt.Errorf("event %s: encode fields: %w", e.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Type, e.Timestamp, nullString(e.TenantID), nullString(e.RequestID),
			nullString(e.Connector), nullString(e.Action), nullString(e.Provider), nullString(e.Model),
			e.PromptTokens, e.CompletionTokens, e.TotalTokens,
			e.CostMicros, e.LatencyMs, e.Success, nullString(e.Error), nullBytes(fields),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Close closes the database
func (s *SQLSink) Close() error {
	return s.db.Close()
}

// LogSink writes events to the structured log. It is the fallback when no
// endpoint is configured.
type LogSink struct {
	Logger *logger.Logger
}

// Send logs one line per event
func (s LogSink) Send(_ context.Context, events []Event) error {
	log := s.Logger
	if log == nil {
		log = logger.New("usage")
	}
	for _, e := range events {
		log.Info(e.TenantID, e.RequestID, "usage event", map[string]interface{}{
			"event_id":    e.ID,
			"event_type":  e.Type,
			"connector":   e.Connector,
			"action":      e.Action,
			"model":       e.Model,
			"tokens":      e.TotalTokens,
			"cost_micros": e.CostMicros,
			"latency_ms":  e.LatencyMs,
			"success":     e.Success,
		})
	}
	return nil
}

// nullString converts an empty string to NULL
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
