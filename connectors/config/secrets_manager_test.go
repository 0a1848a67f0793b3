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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsAPI struct {
	values map[string]string
	calls  atomic.Int32
}

func (f *fakeSecretsAPI) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls.Add(1)
	v, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestMaskARN(t *testing.T) {
	tests := []struct {
		arn  string
		want string
	}{
		{"arn:aws:secretsmanager:us-east-1:123456789012:secret:my-secret-abc123", "...t-abc123"},
		{"short", "***"},
		{"123456789012", "***"},
		{"1234567890123", "...67890123"},
		{"", "***"},
	}
	for _, tt := range tests {
		if got := maskARN(tt.arn); got != tt.want {
			t.Errorf("maskARN(%q) = %q, want %q", tt.arn, got, tt.want)
		}
	}
}

func TestAWSSecretsManagerJSONAndCache(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{
		"prod/zoom": `{"client_id":"cid","client_secret":"cs","port":5432,"empty":null}`,
	}}
	sm, err := NewAWSSecretsManager(context.Background(), AWSSecretsManagerOptions{Client: api, CacheTTL: time.Minute})
	require.NoError(t, err)

	got, err := sm.GetSecret(context.Background(), "prod/zoom")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"client_id": "cid", "client_secret": "cs", "port": "5432"}, got)

	got["client_id"] = "mutated"
	again, err := sm.GetSecret(context.Background(), "prod/zoom")
	require.NoError(t, err)
	assert.Equal(t, "cid", again["client_id"], "cached value must not be shared with callers")
	assert.Equal(t, int32(1), api.calls.Load())
	assert.Equal(t, int64(1), sm.CacheStats().Hits)

	sm.InvalidateSecret("prod/zoom")
	_, _ = sm.GetSecret(context.Background(), "prod/zoom")
	assert.Equal(t, int32(2), api.calls.Load())
}

func TestAWSSecretsManagerPlainString(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{"openai-key": "sk-123"}}
	sm, err := NewAWSSecretsManager(context.Background(), AWSSecretsManagerOptions{Client: api})
	require.NoError(t, err)

	got, err := sm.GetSecret(context.Background(), "openai-key")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"value": "sk-123"}, got)
}

func TestAWSSecretsManagerError(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{}}
	sm, err := NewAWSSecretsManager(context.Background(), AWSSecretsManagerOptions{Client: api})
	require.NoError(t, err)

	_, err = sm.GetSecret(context.Background(), "arn:aws:secretsmanager:us-east-1:1:secret:missing-abcdef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "...-abcdef")
	assert.NotContains(t, err.Error(), "us-east-1")
}

func TestLocalSecretsManager(t *testing.T) {
	sm := NewLocalSecretsManager()
	_, err := sm.GetSecret(context.Background(), "nope")
	assert.Error(t, err)

	sm.SetSecret("dev/brevo", map[string]string{"api_key": "k"})
	got, err := sm.GetSecret(context.Background(), "dev/brevo")
	require.NoError(t, err)
	assert.Equal(t, "k", got["api_key"])
}

func TestEnvSecretsManager(t *testing.T) {
	t.Setenv("ZOOM_PROD_CLIENT_ID", "cid")
	t.Setenv("ZOOM_PROD_CLIENT_SECRET", "cs")

	sm := NewEnvSecretsManager()
	got, err := sm.GetSecret(context.Background(), "zoom-prod")
	require.NoError(t, err)
	assert.Equal(t, "cid", got["client_id"])
	assert.Equal(t, "cs", got["client_secret"])

	_, err = sm.GetSecret(context.Background(), "nothing-here")
	assert.Error(t, err)
}

func TestNewSecretsManager(t *testing.T) {
	ctx := context.Background()
	sm, err := NewSecretsManager(ctx, SecretsOptions{})
	require.NoError(t, err)
	assert.IsType(t, &EnvSecretsManager{}, sm)

	sm, err = NewSecretsManager(ctx, SecretsOptions{Provider: ProviderLocal})
	require.NoError(t, err)
	assert.IsType(t, &LocalSecretsManager{}, sm)

	_, err = NewSecretsManager(ctx, SecretsOptions{Provider: "vault"})
	assert.Error(t, err)
}

func TestCredentialResolver(t *testing.T) {
	local := NewLocalSecretsManager()
	local.SetSecret("prod/teams", map[string]string{"client_id": "cid", "client_secret": "stored"})
	r := NewCredentialResolver(local)
	ctx := context.Background()

	got, err := r.Resolve(ctx, map[string]string{"client_secret": "override"}, "prod/teams")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"client_id": "cid", "client_secret": "override"}, got)

	inline := map[string]string{"token": "t"}
	got, err = r.Resolve(ctx, inline, "")
	require.NoError(t, err)
	got["token"] = "changed"
	assert.Equal(t, "t", inline["token"])

	_, err = r.Resolve(ctx, nil, "missing")
	assert.Error(t, err)

	_, err = NewCredentialResolver(nil).Resolve(ctx, nil, "prod/teams")
	assert.ErrorContains(t, err, "no secrets manager")
}
