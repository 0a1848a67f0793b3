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
	"sort"
	"strconv"
	"strings"
	"time"

	"relayhub/platform/connectors/base"
)

// EnvPrefix starts every connector profile variable
const EnvPrefix = "RELAYHUB_"

// credentialSuffixes maps well-known variable suffixes to credential keys.
// Anything else can be passed as <PREFIX>CRED_<KEY>.
var credentialSuffixes = map[string]string{
	"TOKEN":          "token",
	"ACCESS_TOKEN":   "access_token",
	"REFRESH_TOKEN":  "refresh_token",
	"API_KEY":        "api_key",
	"API_SECRET":     "api_secret",
	"USERNAME":       "username",
	"PASSWORD":       "password",
	"CLIENT_ID":      "client_id",
	"CLIENT_SECRET":  "client_secret",
	"ACCESS_KEY":     "access_key",
	"SECRET_KEY":     "secret_key",
	"ACCOUNT_ID":     "account_id",
	"AZURE_TENANT":   "tenant_id",
	"USER_TOKEN":     "user_token",
	"REALM_HOSTNAME": "realm_hostname",
}

// LoadFromEnv loads the profile name from RELAYHUB_<NAME>_* variables.
// <NAME> is name upper-cased with dashes turned into underscores.
//
//	RELAYHUB_CRM_TYPE=leadsquared      (required)
//	RELAYHUB_CRM_URL=https://api-in21.leadsquared.com
//	RELAYHUB_CRM_TENANT_ID=acme        (default *)
//	RELAYHUB_CRM_TIMEOUT=10s
//	RELAYHUB_CRM_MAX_RETRIES=3
//	RELAYHUB_CRM_CREDENTIAL_REF=prod/crm
//	RELAYHUB_CRM_ACCESS_KEY=...        (well-known credential)
//	RELAYHUB_CRM_CRED_SECRET_KEY=...   (any credential)
//	RELAYHUB_CRM_OPT_API_HOST=...      (any option)
func LoadFromEnv(name string) (*base.ConnectorConfig, error) {
	return loadFromEnv(name, envSegment(name))
}

// LoadAllFromEnv loads every profile that has a RELAYHUB_<NAME>_TYPE
// variable, sorted by name.
func LoadAllFromEnv() ([]*base.ConnectorConfig, error) {
	var segments []string
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) || !strings.HasSuffix(key, "_TYPE") {
			continue
		}
		seg := strings.TrimSuffix(strings.TrimPrefix(key, EnvPrefix), "_TYPE")
		if seg == "" || strings.Contains(seg, "_OPT_") || strings.Contains(seg, "_CRED_") {
			continue
		}
		segments = append(segments, seg)
	}
	sort.Strings(segments)

	configs := make([]*base.ConnectorConfig, 0, len(segments))
	for _, seg := range segments {
		cfg, err := loadFromEnv(strings.ReplaceAll(strings.ToLower(seg), "_", "-"), seg)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func envSegment(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func loadFromEnv(name, segment string) (*base.ConnectorConfig, error) {
	prefix := EnvPrefix + segment + "_"

	cfg := &base.ConnectorConfig{
		Name:          name,
		Type:          os.Getenv(prefix + "TYPE"),
		ConnectionURL: os.Getenv(prefix + "URL"),
		TenantID:      getEnvOrDefault(prefix+"TENANT_ID", "*"),
		Credentials:   make(map[string]string),
		Options:       make(map[string]interface{}),
	}
	if cfg.Type == "" {
		return nil, fmt.Errorf("missing required environment variable: %sTYPE", prefix)
	}

	if v := os.Getenv(prefix + "TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %sTIMEOUT %q: %w", prefix, v, err)
		}
		cfg.Timeout = timeout
	}
	if v := os.Getenv(prefix + "MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %sMAX_RETRIES %q", prefix, v)
		}
		cfg.MaxRetries = n
	}
	if ref := os.Getenv(prefix + "CREDENTIAL_REF"); ref != "" {
		cfg.Options[base.CredentialRefOption] = ref
	}

	for suffix, key := range credentialSuffixes {
		if v := os.Getenv(prefix + suffix); v != "" {
			cfg.Credentials[key] = v
		}
	}
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if rest, ok := strings.CutPrefix(key, prefix+"CRED_"); ok && rest != "" {
			cfg.Credentials[strings.ToLower(rest)] = value
		}
		if rest, ok := strings.CutPrefix(key, prefix+"OPT_"); ok && rest != "" {
			cfg.Options[strings.ToLower(rest)] = optionValue(value)
		}
	}
	return cfg, nil
}

// optionValue keeps booleans and integers typed so GetBoolOption and
// GetIntOption see the value they expect.
func optionValue(v string) interface{} {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// ValidateConfig validates a connector configuration. A zero timeout or
// retry count selects the connector default; negative retries disable
// retrying.
func ValidateConfig(cfg *base.ConnectorConfig) error {
	if cfg == nil {
		return fmt.Errorf("connector config is required")
	}
	if cfg.Name == "" {
		return fmt.Errorf("connector name is required")
	}
	if cfg.Type == "" {
		return fmt.Errorf("connector type is required")
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if cfg.ConnectionURL != "" && !strings.Contains(cfg.ConnectionURL, "://") {
		return fmt.Errorf("connection URL of %s must include a scheme", cfg.Name)
	}
	return nil
}
