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
	"strings"
	"testing"
	"time"

	"relayhub/platform/connectors/base"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RELAYHUB_SALES_CRM_TYPE", "leadsquared")
	t.Setenv("RELAYHUB_SALES_CRM_URL", "https://api-in21.leadsquared.com")
	t.Setenv("RELAYHUB_SALES_CRM_TENANT_ID", "acme")
	t.Setenv("RELAYHUB_SALES_CRM_TIMEOUT", "12s")
	t.Setenv("RELAYHUB_SALES_CRM_MAX_RETRIES", "-1")
	t.Setenv("RELAYHUB_SALES_CRM_ACCESS_KEY", "ak")
	t.Setenv("RELAYHUB_SALES_CRM_CRED_SECRET_KEY", "sk")
	t.Setenv("RELAYHUB_SALES_CRM_OPT_API_HOST", "api-in21.leadsquared.com")
	t.Setenv("RELAYHUB_SALES_CRM_OPT_ALLOW_PRIVATE_IPS", "true")
	t.Setenv("RELAYHUB_SALES_CRM_CREDENTIAL_REF", "prod/crm")

	cfg, err := LoadFromEnv("sales-crm")
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.Name != "sales-crm" || cfg.Type != "leadsquared" {
		t.Errorf("unexpected name/type %s/%s", cfg.Name, cfg.Type)
	}
	if cfg.TenantID != "acme" || cfg.Timeout != 12*time.Second || cfg.MaxRetries != -1 {
		t.Errorf("unexpected tenant/timeout/retries %+v", cfg)
	}
	if cfg.Credentials["access_key"] != "ak" || cfg.Credentials["secret_key"] != "sk" {
		t.Errorf("unexpected credentials %v", cfg.Credentials)
	}
	if cfg.Options["api_host"] != "api-in21.leadsquared.com" {
		t.Errorf("unexpected api_host %v", cfg.Options["api_host"])
	}
	if cfg.Options["allow_private_ips"] != true {
		t.Errorf("expected typed bool option, got %#v", cfg.Options["allow_private_ips"])
	}
	if cfg.Options[base.CredentialRefOption] != "prod/crm" {
		t.Errorf("expected credential_ref option, got %v", cfg.Options[base.CredentialRefOption])
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("RELAYHUB_DOCS_TYPE", "gdocs")

	cfg, err := LoadFromEnv("docs")
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.TenantID != "*" {
		t.Errorf("expected shared tenant, got %q", cfg.TenantID)
	}
	if cfg.Timeout != 0 || cfg.MaxRetries != 0 {
		t.Errorf("expected zero timeout and retries, got %v/%d", cfg.Timeout, cfg.MaxRetries)
	}
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing type", map[string]string{"RELAYHUB_BAD_URL": "https://x"}, "RELAYHUB_BAD_TYPE"},
		{"bad timeout", map[string]string{"RELAYHUB_BAD_TYPE": "http", "RELAYHUB_BAD_TIMEOUT": "soon"}, "TIMEOUT"},
		{"bad retries", map[string]string{"RELAYHUB_BAD_TYPE": "http", "RELAYHUB_BAD_MAX_RETRIES": "many"}, "MAX_RETRIES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv("bad")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadAllFromEnv(t *testing.T) {
	t.Setenv("RELAYHUB_ZZ_MAIL_TYPE", "brevo")
	t.Setenv("RELAYHUB_ZZ_MAIL_API_KEY", "xkeysib")
	t.Setenv("RELAYHUB_ZZ_CHAT_TYPE", "teams")

	all, err := LoadAllFromEnv()
	if err != nil {
		t.Fatalf("LoadAllFromEnv failed: %v", err)
	}
	byName := map[string]*base.ConnectorConfig{}
	for _, cfg := range all {
		byName[cfg.Name] = cfg
	}
	if byName["zz-mail"] == nil || byName["zz-mail"].Credentials["api_key"] != "xkeysib" {
		t.Errorf("expected zz-mail profile, got %v", byName["zz-mail"])
	}
	if byName["zz-chat"] == nil || byName["zz-chat"].Type != "teams" {
		t.Errorf("expected zz-chat profile, got %v", byName["zz-chat"])
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *base.ConnectorConfig
		wantErr bool
	}{
		{"valid", &base.ConnectorConfig{Name: "n", Type: "notion"}, false},
		{"negative retries disable retrying", &base.ConnectorConfig{Name: "n", Type: "http", MaxRetries: -1}, false},
		{"nil", nil, true},
		{"missing name", &base.ConnectorConfig{Type: "notion"}, true},
		{"missing type", &base.ConnectorConfig{Name: "n"}, true},
		{"negative timeout", &base.ConnectorConfig{Name: "n", Type: "s3", Timeout: -time.Second}, true},
		{"url without scheme", &base.ConnectorConfig{Name: "n", Type: "http", ConnectionURL: "api.example.com"}, true},
		{"mongodb url", &base.ConnectorConfig{Name: "n", Type: "mongodb", ConnectionURL: "mongodb://localhost:27017"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOptionValue(t *testing.T) {
	if optionValue("false") != false {
		t.Error("expected bool")
	}
	if optionValue("42") != 42 {
		t.Error("expected int")
	}
	if optionValue("eu-west-1") != "eu-west-1" {
		t.Error("expected string")
	}
}
