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
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"relayhub/platform/connectors/base"
)

// ConfigFile is the root of a connector profile file
type ConfigFile struct {
	Version    string                         `yaml:"version"`
	Connectors map[string]ConnectorFileConfig `yaml:"connectors,omitempty"`
}

// ConnectorFileConfig is one profile in a profile file
type ConnectorFileConfig struct {
	Type          string                 `yaml:"type"`
	Enabled       *bool                  `yaml:"enabled,omitempty"` // nil means enabled
	Description   string                 `yaml:"description,omitempty"`
	ConnectionURL string                 `yaml:"connection_url,omitempty"`
	Credentials   map[string]string      `yaml:"credentials,omitempty"`
	CredentialRef string                 `yaml:"credential_ref,omitempty"`
	Options       map[string]interface{} `yaml:"options,omitempty"`
	Timeout       string                 `yaml:"timeout,omitempty"`
	MaxRetries    int                    `yaml:"max_retries,omitempty"`
	TenantID      string                 `yaml:"tenant_id,omitempty"`
}

// YAMLConfigFileLoader loads connector profiles from a YAML file
type YAMLConfigFileLoader struct {
	filePath string

	mu     sync.RWMutex
	config *ConfigFile
}

// NewYAMLConfigFileLoader reads and validates filePath
func NewYAMLConfigFileLoader(filePath string) (*YAMLConfigFileLoader, error) {
	l := &YAMLConfigFileLoader{filePath: filePath}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the file being loaded
func (l *YAMLConfigFileLoader) Path() string { return l.filePath }

// Reload re-reads the file. The previous contents stay in effect when the
// new file fails to parse or validate.
func (l *YAMLConfigFileLoader) Reload() error {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", l.filePath, err)
	}
	cfg, err := ParseConfigFile(data)
	if err != nil {
		return fmt.Errorf("%s: %w", l.filePath, err)
	}
	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return nil
}

// ParseConfigFile expands ${VAR} references, parses and validates data
func ParseConfigFile(data []byte) (*ConfigFile, error) {
	var cfg ConfigFile
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := ValidateConfigFile(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConnectors returns the enabled profiles visible to tenantID, sorted
// by name. An empty tenantID returns every enabled profile.
func (l *YAMLConfigFileLoader) LoadConnectors(tenantID string) ([]*base.ConnectorConfig, error) {
	l.mu.RLock()
	file := l.config
	l.mu.RUnlock()
	if file == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	names := make([]string, 0, len(file.Connectors))
	for name := range file.Connectors {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]*base.ConnectorConfig, 0, len(names))
	for _, name := range names {
		fc := file.Connectors[name]
		if fc.Enabled != nil && !*fc.Enabled {
			continue
		}
		tenant := fc.TenantID
		if tenant == "" {
			tenant = "*"
		}
		if tenantID != "" && tenant != "*" && tenant != tenantID {
			continue
		}
		cfg, err := fc.toConnectorConfig(name, tenant)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (fc ConnectorFileConfig) toConnectorConfig(name, tenant string) (*base.ConnectorConfig, error) {
	cfg := &base.ConnectorConfig{
		Name:          name,
		Type:          fc.Type,
		ConnectionURL: fc.ConnectionURL,
		TenantID:      tenant,
		MaxRetries:    fc.MaxRetries,
		Credentials:   copyStrings(fc.Credentials),
		Options:       make(map[string]interface{}, len(fc.Options)+1),
	}
	for k, v := range fc.Options {
		cfg.Options[k] = v
	}
	if fc.CredentialRef != "" {
		cfg.Options[base.CredentialRefOption] = fc.CredentialRef
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return nil, fmt.Errorf("connector %s: invalid timeout %q: %w", name, fc.Timeout, err)
		}
		cfg.Timeout = d
	}
	return cfg, nil
}

// envVarRegex matches ${VAR}, ${VAR:-default} and $VAR
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars substitutes environment references. Undefined variables
// without a default expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		def := ""
		if idx := strings.Index(name, ":-"); idx != -1 {
			name, def = name[:idx], name[idx+2:]
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
		return def
	})
}

// ValidateConfigFile checks the file structure. When knownTypes is given,
// every profile type must be one of them.
func ValidateConfigFile(cfg *ConfigFile, knownTypes ...string) error {
	if cfg.Version == "" {
		return fmt.Errorf("config file must specify a version")
	}
	known := make(map[string]bool, len(knownTypes))
	for _, t := range knownTypes {
		known[t] = true
	}
	for name, c := range cfg.Connectors {
		if c.Type == "" {
			return fmt.Errorf("connector '%s' must specify a type", name)
		}
		if len(known) > 0 && !known[c.Type] {
			return fmt.Errorf("connector '%s' has unknown type '%s'", name, c.Type)
		}
		if c.Timeout != "" {
			if _, err := time.ParseDuration(c.Timeout); err != nil {
				return fmt.Errorf("connector '%s' has invalid timeout '%s'", name, c.Timeout)
			}
		}
	}
	return nil
}

// GenerateExampleConfigFile returns a commented example profile file
func GenerateExampleConfigFile() string {
	return `# Relayhub connector profiles
# Reference environment variables with ${VAR_NAME} or ${VAR_NAME:-default}

version: "1.0"

connectors:
  marketing-email:
    type: brevo
    tenant_id: acme
    credentials:
      api_key: ${BREVO_API_KEY}
    timeout: 15s

  team-notion:
    type: notion
    credential_ref: prod/notion   # resolved by the secrets manager
    options:
      notion_version: "2022-06-28"

  meetings:
    type: zoom
    enabled: false
    credentials:
      account_id: ${ZOOM_ACCOUNT_ID}
      client_id: ${ZOOM_CLIENT_ID}
      client_secret: ${ZOOM_CLIENT_SECRET}

  internal-api:
    type: http
    connection_url: ${INTERNAL_API_URL:-https://api.internal.example.com}
    credentials:
      token: ${INTERNAL_API_TOKEN}
    options:
      auth_type: bearer
    max_retries: 3
`
}
