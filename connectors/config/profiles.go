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

package config

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"relayhub/platform/connectors/base"
	"relayhub/platform/shared/logger"
)

// ConfigSource names where a set of profiles came from
type ConfigSource string

const (
	SourceFile ConfigSource = "file"
	SourceEnv  ConfigSource = "env"
	SourceNone ConfigSource = "none"
)

type cachedProfiles struct {
	configs []*base.ConnectorConfig
	source  ConfigSource
}

// ProfileLoader returns the connector profiles of a tenant from the
// profile file when configured, falling back to environment variables.
// Results are cached per tenant.
type ProfileLoader struct {
	file  *YAMLConfigFileLoader
	cache *TTLCache[cachedProfiles]
	log   *zap.SugaredLogger
}

// NewProfileLoader creates a loader. file may be nil.
func NewProfileLoader(file *YAMLConfigFileLoader, ttl time.Duration) *ProfileLoader {
	return &ProfileLoader{
		file:  file,
		cache: NewTTLCache[cachedProfiles](ttl),
		log:   logger.New("config").Sugared("profiles"),
	}
}

// Load returns the profiles visible to tenantID and their source
func (l *ProfileLoader) Load(ctx context.Context, tenantID string) ([]*base.ConnectorConfig, ConfigSource, error) {
	if cached, ok := l.cache.Get(tenantID); ok {
		return cached.configs, cached.source, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, SourceNone, err
	}

	if l.file != nil {
		configs, err := l.file.LoadConnectors(tenantID)
		if err != nil {
			l.log.Warnf("Failed to load profiles from %s: %v", l.file.Path(), err)
		} else if len(configs) > 0 {
			l.store(tenantID, configs, SourceFile)
			return configs, SourceFile, nil
		}
	}

	all, err := LoadAllFromEnv()
	if err != nil {
		return nil, SourceNone, fmt.Errorf("load profiles from environment: %w", err)
	}
	var configs []*base.ConnectorConfig
	for _, cfg := range all {
		if tenantID == "" || cfg.TenantID == "*" || cfg.TenantID == tenantID {
			configs = append(configs, cfg)
		}
	}
	if len(configs) == 0 {
		l.store(tenantID, nil, SourceNone)
		return nil, SourceNone, nil
	}
	l.store(tenantID, configs, SourceEnv)
	return configs, SourceEnv, nil
}

// Refresh drops the cached profiles of tenantID and reloads the file
func (l *ProfileLoader) Refresh(tenantID string) error {
	l.cache.Invalidate(tenantID)
	if l.file == nil {
		return nil
	}
	return l.file.Reload()
}

// CacheStats exposes the profile cache statistics
func (l *ProfileLoader) CacheStats() CacheStats {
	return l.cache.Stats()
}

func (l *ProfileLoader) store(tenantID string, configs []*base.ConnectorConfig, source ConfigSource) {
	l.cache.Set(tenantID, cachedProfiles{configs: configs, source: source})
	if len(configs) > 0 {
		l.log.Infof("Loaded %d profile(s) for tenant %q from %s", len(configs), tenantID, source)
	}
}
