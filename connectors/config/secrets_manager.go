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
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"

	"relayhub/platform/shared/logger"
)

// SecretsManager resolves a secret reference into credential values
type SecretsManager interface {
	GetSecret(ctx context.Context, ref string) (map[string]string, error)
}

// Secrets manager providers
const (
	ProviderEnv   = "env"
	ProviderAWS   = "aws"
	ProviderLocal = "local"
)

// SecretsOptions selects and configures a SecretsManager
type SecretsOptions struct {
	Provider string
	Region   string
	CacheTTL time.Duration
}

// NewSecretsManager builds the manager named by opts.Provider (env by default)
func NewSecretsManager(ctx context.Context, opts SecretsOptions) (SecretsManager, error) {
	switch opts.Provider {
	case "", ProviderEnv:
		return NewEnvSecretsManager(), nil
	case ProviderLocal:
		return NewLocalSecretsManager(), nil
	case ProviderAWS:
		return NewAWSSecretsManager(ctx, AWSSecretsManagerOptions{Region: opts.Region, CacheTTL: opts.CacheTTL})
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", opts.Provider)
	}
}

// SecretsAPI is the subset of the Secrets Manager client used here
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager reads secrets from AWS Secrets Manager with a TTL cache
type AWSSecretsManager struct {
	client SecretsAPI
	cache  *TTLCache[map[string]string]
	log    *zap.SugaredLogger
}

// AWSSecretsManagerOptions configures NewAWSSecretsManager
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	Client   SecretsAPI // skips AWS config loading when set
}

// DefaultSecretTTL applies when no cache TTL is configured
const DefaultSecretTTL = 5 * time.Minute

// NewAWSSecretsManager creates a Secrets Manager backed resolver
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	client := opts.Client
	if client == nil {
		var cfgOpts []func(*awsconfig.LoadOptions) error
		if opts.Region != "" {
			cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = secretsmanager.NewFromConfig(cfg)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultSecretTTL
	}
	return &AWSSecretsManager{
		client: client,
		cache:  NewTTLCache[map[string]string](ttl),
		log:    logger.New("config").Sugared("secrets"),
	}, nil
}

// GetSecret returns the secret as key/value pairs. JSON object secrets are
// flattened to strings; any other secret string is returned under "value".
func (s *AWSSecretsManager) GetSecret(ctx context.Context, ref string) (map[string]string, error) {
	if v, ok := s.cache.Get(ref); ok {
		return copyStrings(v), nil
	}

	s.log.Debugf("Fetching secret %s from AWS Secrets Manager", maskARN(ref))
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(ref)})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(ref), err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(ref))
	}

	values := parseSecret(*out.SecretString)
	s.cache.Set(ref, values)
	s.log.Infof("Retrieved and cached secret %s", maskARN(ref))
	return copyStrings(values), nil
}

// InvalidateSecret removes a secret from the cache
func (s *AWSSecretsManager) InvalidateSecret(ref string) {
	s.cache.Invalidate(ref)
}

// InvalidateAll clears the secret cache
func (s *AWSSecretsManager) InvalidateAll() {
	s.cache.InvalidateAll()
}

// CacheStats exposes the secret cache statistics
func (s *AWSSecretsManager) CacheStats() CacheStats {
	return s.cache.Stats()
}

func parseSecret(raw string) map[string]string {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]string{"value": raw}
	}
	values := make(map[string]string, len(obj))
	for k, v := range obj {
		switch tv := v.(type) {
		case string:
			values[k] = tv
		case nil:
		default:
			b, _ := json.Marshal(tv)
			values[k] = string(b)
		}
	}
	return values
}

// maskARN keeps only the last 8 characters of a secret reference
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

// LocalSecretsManager keeps secrets in memory, for development and tests
type LocalSecretsManager struct {
	mu      sync.RWMutex
	secrets map[string]map[string]string
}

// NewLocalSecretsManager creates an empty local manager
func NewLocalSecretsManager() *LocalSecretsManager {
	return &LocalSecretsManager{secrets: make(map[string]map[string]string)}
}

// GetSecret returns a stored secret
func (s *LocalSecretsManager) GetSecret(ctx context.Context, ref string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if secret, ok := s.secrets[ref]; ok {
		return copyStrings(secret), nil
	}
	return nil, fmt.Errorf("secret %s not found in local secrets manager", ref)
}

// SetSecret stores a secret
func (s *LocalSecretsManager) SetSecret(ref string, value map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[ref] = copyStrings(value)
}

// EnvSecretsManager treats the reference as an environment variable
// prefix: "ZOOM_PROD" yields ZOOM_PROD_CLIENT_ID as client_id and so on.
type EnvSecretsManager struct{}

// NewEnvSecretsManager creates an environment-backed manager
func NewEnvSecretsManager() *EnvSecretsManager {
	return &EnvSecretsManager{}
}

// GetSecret collects every <REF>_<KEY> variable
func (s *EnvSecretsManager) GetSecret(ctx context.Context, ref string) (map[string]string, error) {
	prefix := strings.ToUpper(strings.NewReplacer("-", "_", "/", "_", ".", "_").Replace(ref)) + "_"
	values := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if rest, ok := strings.CutPrefix(key, prefix); ok && rest != "" && value != "" {
			values[strings.ToLower(rest)] = value
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no credentials found for prefix %s", prefix)
	}
	return values, nil
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var (
	_ SecretsManager = (*AWSSecretsManager)(nil)
	_ SecretsManager = (*LocalSecretsManager)(nil)
	_ SecretsManager = (*EnvSecretsManager)(nil)
)
