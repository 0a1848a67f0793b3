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

package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
	"relayhub/platform/shared/logger"
)

// Storage persists connector profiles
type Storage interface {
	SaveConnector(ctx context.Context, name string, cfg *base.ConnectorConfig) error
	GetConnector(ctx context.Context, name string) (*base.ConnectorConfig, error)
	ListConnectors(ctx context.Context) ([]string, error)
	DeleteConnector(ctx context.Context, name string) error
	UpdateHealth(ctx context.Context, name string, status *base.HealthStatus) error
	Close() error
}

// Schema creates the profile table
const Schema = `
CREATE TABLE IF NOT EXISTS connector_profiles (
	name              VARCHAR(255) PRIMARY KEY,
	type              VARCHAR(64)  NOT NULL,
	tenant_id         VARCHAR(255) NOT NULL DEFAULT '',
	connection_url    TEXT         NOT NULL DEFAULT '',
	options           JSONB        NOT NULL DEFAULT '{}'::jsonb,
	credentials       JSONB        NOT NULL DEFAULT '{}'::jsonb,
	credential_ref    TEXT         NOT NULL DEFAULT '',
	timeout_ms        BIGINT       NOT NULL DEFAULT 0,
	max_retries       INT          NOT NULL DEFAULT 0,
	installed_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	last_health_check TIMESTAMPTZ,
	health_status     JSONB
);

CREATE INDEX IF NOT EXISTS idx_connector_profiles_tenant ON connector_profiles(tenant_id);
`

// PostgreSQLStorage keeps profiles in PostgreSQL
type PostgreSQLStorage struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// NewPostgreSQLStorage opens dbURL, retrying while the database comes up,
// and creates the schema.
func NewPostgreSQLStorage(ctx context.Context, dbURL string) (*PostgreSQLStorage, error) {
	log := logger.New("registry").Sugared("profile-storage")
	retry := &sdk.RetryConfig{
		MaxRetries:      4,
		InitialInterval: 2 * time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		RetryIf:         func(error) bool { return true },
	}
	db, err := sdk.RetryWithBackoff(ctx, retry, func() (*sql.DB, error) {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			return nil, sdk.NonRetryable(err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			log.Warnf("Database not reachable yet: %v", err)
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to profile database: %w", err)
	}

	s := NewPostgreSQLStorageFromDB(db)
	s.log = log
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infof("PostgreSQL profile storage initialized")
	return s, nil
}

// NewPostgreSQLStorageFromDB wraps an open database without touching the schema
func NewPostgreSQLStorageFromDB(db *sql.DB) *PostgreSQLStorage {
	return &PostgreSQLStorage{db: db, log: logger.New("registry").Sugared("profile-storage")}
}

// InitSchema creates the profile table if needed
func (s *PostgreSQLStorage) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create profile schema: %w", err)
	}
	return nil
}

// SaveConnector upserts a profile. When the options carry a
// credential_ref only the reference is stored, never the secret values.
func (s *PostgreSQLStorage) SaveConnector(ctx context.Context, name string, cfg *base.ConnectorConfig) error {
	ref, _ := cfg.Options[CredentialRefOption].(string)
	creds := cfg.Credentials
	if ref != "" || creds == nil {
		creds = map[string]string{}
	}
	optionsJSON, err := json.Marshal(cfg.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	credsJSON, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connector_profiles
			(name, type, tenant_id, connection_url, options, credentials, credential_ref, timeout_ms, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET
			type = EXCLUDED.type,
			tenant_id = EXCLUDED.tenant_id,
			connection_url = EXCLUDED.connection_url,
			options = EXCLUDED.options,
			credentials = EXCLUDED.credentials,
			credential_ref = EXCLUDED.credential_ref,
			timeout_ms = EXCLUDED.timeout_ms,
			max_retries = EXCLUDED.max_retries,
			updated_at = NOW()`,
		name, cfg.Type, cfg.TenantID, cfg.ConnectionURL, optionsJSON, credsJSON, ref,
		cfg.Timeout.Milliseconds(), cfg.MaxRetries,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", name, err)
	}
	return nil
}

// GetConnector loads a profile
func (s *PostgreSQLStorage) GetConnector(ctx context.Context, name string) (*base.ConnectorConfig, error) {
	var (
		cfg                    = &base.ConnectorConfig{Name: name}
		optionsJSON, credsJSON []byte
		ref                    string
		timeoutMs              int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT type, tenant_id, connection_url, options, credentials, credential_ref, timeout_ms, max_retries
		FROM connector_profiles WHERE name = $1`, name,
	).Scan(&cfg.Type, &cfg.TenantID, &cfg.ConnectionURL, &optionsJSON, &credsJSON, &ref, &timeoutMs, &cfg.MaxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", name, err)
	}

	if err := json.Unmarshal(optionsJSON, &cfg.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options of %s: %w", name, err)
	}
	if err := json.Unmarshal(credsJSON, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials of %s: %w", name, err)
	}
	if cfg.Options == nil {
		cfg.Options = map[string]interface{}{}
	}
	if cfg.Credentials == nil {
		cfg.Credentials = map[string]string{}
	}
	if ref != "" {
		cfg.Options[CredentialRefOption] = ref
	}
	cfg.Timeout = time.Duration(timeoutMs) * time.Millisecond
	return cfg, nil
}

// ListConnectors returns profile names, most recently installed first
func (s *PostgreSQLStorage) ListConnectors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM connector_profiles ORDER BY installed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan profile name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteConnector removes a profile
func (s *PostgreSQLStorage) DeleteConnector(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connector_profiles WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return nil
}

// UpdateHealth records the latest health check of a profile
func (s *PostgreSQLStorage) UpdateHealth(ctx context.Context, name string, status *base.HealthStatus) error {
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal health status: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE connector_profiles SET last_health_check = NOW(), health_status = $2
		WHERE name = $1`, name, statusJSON)
	if err != nil {
		return fmt.Errorf("failed to update health of %s: %w", name, err)
	}
	return nil
}

// Close closes the database
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

var _ Storage = (*PostgreSQLStorage)(nil)
