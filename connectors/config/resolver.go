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
)

// CredentialResolver turns a credential_ref into credentials through a
// SecretsManager
type CredentialResolver struct {
	secrets SecretsManager
}

// NewCredentialResolver creates a resolver over secrets
func NewCredentialResolver(secrets SecretsManager) *CredentialResolver {
	return &CredentialResolver{secrets: secrets}
}

// Resolve returns the secret values of ref overlaid with inline. Inline
// credentials win so a request can override a single stored key. An
// empty ref returns a copy of inline.
func (r *CredentialResolver) Resolve(ctx context.Context, inline map[string]string, ref string) (map[string]string, error) {
	if ref == "" {
		return copyStrings(inline), nil
	}
	if r == nil || r.secrets == nil {
		return nil, fmt.Errorf("credential_ref %s given but no secrets manager is configured", maskARN(ref))
	}
	secret, err := r.secrets.GetSecret(ctx, ref)
	if err != nil {
		return nil, err
	}
	merged := copyStrings(secret)
	for k, v := range inline {
		merged[k] = v
	}
	return merged, nil
}
