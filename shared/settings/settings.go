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

// Package settings loads relayhubd and relayctl settings from an optional
// YAML file with RELAYHUB_ environment overrides, e.g.
// RELAYHUB_SERVER_ADDR for server.addr.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "RELAYHUB"

// History backends
const (
	HistoryFile   = "file"
	HistoryRedis  = "redis"
	HistoryMemory = "memory"
)

// Settings holds all service configuration
type Settings struct {
	Server     ServerSettings
	Logging    LoggingSettings
	History    HistorySettings
	Secrets    SecretsSettings
	Registry   RegistrySettings
	LLM        LLMSettings
	OpenAI     OpenAISettings
	Bedrock    BedrockSettings
	Connectors ConnectorSettings
}

type ServerSettings struct {
	Addr            string
	JWTSecret       string
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingSettings configures usage event delivery. An empty Endpoint
// sends events to the structured log instead.
type LoggingSettings struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

type HistorySettings struct {
	Backend  string
	Dir      string
	RedisURL string
	TTL      time.Duration
}

// SecretsSettings selects the credential source. With TenantScopedRefs a
// tenant may only resolve refs under "<tenant_id>/".
type SecretsSettings struct {
	Provider         string
	Region           string
	CacheTTL         time.Duration
	TenantScopedRefs bool
}

// RegistrySettings configures profile persistence and the pool of
// connected instances
type RegistrySettings struct {
	DatabaseURL    string
	PoolSize       int
	ReloadInterval time.Duration
}

// LLMSettings picks the provider of chain configs that name none
type LLMSettings struct {
	Provider string
}

type OpenAISettings struct {
	APIKey  string
	Model   string
	BaseURL string
}

// BedrockSettings are the defaults for provider: bedrock. Credentials
// come from the default AWS chain.
type BedrockSettings struct {
	Region         string
	Model          string
	EmbeddingModel string
}

// ConnectorSettings points at the YAML connector profile file and caps
// per-tenant call rates. A zero TenantRateLimit disables the cap.
type ConnectorSettings struct {
	File            string
	CacheTTL        time.Duration
	TenantRateLimit float64
	TenantRateBurst int
}

// Load reads settings from path, or from relayhub.yaml in ./config, . or
// /etc/relayhub when path is empty. A missing default file is not an
// error; a missing explicit path is.
func Load(path string) (*Settings, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("relayhub")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/relayhub/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	_ = v.BindEnv("openai.env_api_key", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	s := &Settings{}

	s.Server.Addr = v.GetString("server.addr")
	s.Server.JWTSecret = v.GetString("server.jwt_secret")
	s.Server.CORSOrigins = splitList(v.GetStringSlice("server.cors_origins"))
	s.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	s.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	s.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")

	s.Logging.Endpoint = v.GetString("logging.endpoint")
	s.Logging.APIKey = v.GetString("logging.api_key")
	s.Logging.Timeout = v.GetDuration("logging.timeout")
	s.Logging.QueueSize = v.GetInt("logging.queue_size")
	s.Logging.BatchSize = v.GetInt("logging.batch_size")
	s.Logging.FlushInterval = v.GetDuration("logging.flush_interval")

	s.History.Backend = strings.ToLower(v.GetString("history.backend"))
	s.History.Dir = v.GetString("history.dir")
	s.History.RedisURL = v.GetString("history.redis_url")
	s.History.TTL = v.GetDuration("history.ttl")

	s.Secrets.Provider = strings.ToLower(v.GetString("secrets.provider"))
	s.Secrets.Region = v.GetString("secrets.region")
	s.Secrets.CacheTTL = v.GetDuration("secrets.cache_ttl")
	s.Secrets.TenantScopedRefs = v.GetBool("secrets.tenant_scoped_refs")

	s.Registry.DatabaseURL = v.GetString("registry.database_url")
	s.Registry.PoolSize = v.GetInt("registry.pool_size")
	s.Registry.ReloadInterval = v.GetDuration("registry.reload_interval")

	// OPENAI_API_KEY is honoured when the prefixed variable is unset.
	s.OpenAI.APIKey = v.GetString("openai.api_key")
	if s.OpenAI.APIKey == "" {
		s.OpenAI.APIKey = v.GetString("openai.env_api_key")
	}
	s.OpenAI.Model = v.GetString("openai.model")
	s.OpenAI.BaseURL = v.GetString("openai.base_url")

	s.LLM.Provider = strings.ToLower(v.GetString("llm.provider"))
	s.Bedrock.Region = v.GetString("bedrock.region")
	s.Bedrock.Model = v.GetString("bedrock.model")
	s.Bedrock.EmbeddingModel = v.GetString("bedrock.embedding_model")

	s.Connectors.File = v.GetString("connectors.file")
	s.Connectors.CacheTTL = v.GetDuration("connectors.cache_ttl")
	s.Connectors.TenantRateLimit = v.GetFloat64("connectors.tenant_rate_limit")
	s.Connectors.TenantRateBurst = v.GetInt("connectors.tenant_rate_burst")

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("logging.endpoint", "")
	v.SetDefault("logging.api_key", "")
	v.SetDefault("logging.timeout", 10*time.Second)
	v.SetDefault("logging.queue_size", 1000)
	v.SetDefault("logging.batch_size", 50)
	v.SetDefault("logging.flush_interval", 2*time.Second)

	v.SetDefault("history.backend", HistoryFile)
	v.SetDefault("history.dir", "./data/history")
	v.SetDefault("history.redis_url", "")
	v.SetDefault("history.ttl", 0)

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.region", "")
	v.SetDefault("secrets.cache_ttl", 5*time.Minute)
	v.SetDefault("secrets.tenant_scoped_refs", true)

	v.SetDefault("registry.database_url", "")
	v.SetDefault("registry.pool_size", 64)
	v.SetDefault("registry.reload_interval", 0)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "")
	v.SetDefault("openai.base_url", "")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("bedrock.region", "")
	v.SetDefault("bedrock.model", "")
	v.SetDefault("bedrock.embedding_model", "")

	v.SetDefault("connectors.file", "")
	v.SetDefault("connectors.cache_ttl", 30*time.Second)
	v.SetDefault("connectors.tenant_rate_limit", 0)
	v.SetDefault("connectors.tenant_rate_burst", 10)
}

// Validate rejects settings no component can start with
func (s *Settings) Validate() error {
	switch s.History.Backend {
	case HistoryFile:
		if s.History.Dir == "" {
			return fmt.Errorf("history.dir is required for the file backend")
		}
	case HistoryRedis:
		if s.History.RedisURL == "" {
			return fmt.Errorf("history.redis_url is required for the redis backend")
		}
	case HistoryMemory:
	default:
		return fmt.Errorf("unknown history.backend %q (want file, redis or memory)", s.History.Backend)
	}
	switch s.Secrets.Provider {
	case "env", "aws", "local":
	default:
		return fmt.Errorf("unknown secrets.provider %q (want env, aws or local)", s.Secrets.Provider)
	}
	switch s.LLM.Provider {
	case "openai", "bedrock":
	default:
		return fmt.Errorf("unknown llm.provider %q (want openai or bedrock)", s.LLM.Provider)
	}
	if s.Registry.PoolSize < 0 {
		return fmt.Errorf("registry.pool_size must not be negative")
	}
	if s.Connectors.TenantRateLimit < 0 {
		return fmt.Errorf("connectors.tenant_rate_limit must not be negative")
	}
	return nil
}

// splitList accepts both YAML lists and comma-separated env values
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
