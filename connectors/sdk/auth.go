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

package sdk

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthProvider defines the interface for authentication mechanisms
type AuthProvider interface {
	// Authenticate applies authentication to the given request
	Authenticate(ctx context.Context, req *http.Request) error

	// IsExpired checks if the current credentials have expired
	IsExpired() bool

	// Refresh refreshes the credentials if possible
	Refresh(ctx context.Context) error

	// Type returns the authentication type name
	Type() string
}

// APIKeyLocation specifies where the API key should be placed
type APIKeyLocation int

const (
	// APIKeyInHeader places the API key in a header
	APIKeyInHeader APIKeyLocation = iota
	// APIKeyInQuery places the API key in query parameters
	APIKeyInQuery
)

// APIKeyAuth sends a static key in a header or query parameter. Prefix is
// prepended to header values, e.g. "QB-USER-TOKEN ".
type APIKeyAuth struct {
	apiKey   string
	location APIKeyLocation
	keyName  string
	prefix   string
}

// NewAPIKeyAuth creates a new API key authentication provider
func NewAPIKeyAuth(apiKey string, location APIKeyLocation, keyName string) *APIKeyAuth {
	if keyName == "" {
		keyName = "X-API-Key"
	}
	return &APIKeyAuth{apiKey: apiKey, location: location, keyName: keyName}
}

// NewHeaderAuth sends "<prefix><key>" in the named header.
func NewHeaderAuth(header, prefix, key string) *APIKeyAuth {
	return &APIKeyAuth{apiKey: key, location: APIKeyInHeader, keyName: header, prefix: prefix}
}

// Authenticate applies the API key to the request
func (a *APIKeyAuth) Authenticate(ctx context.Context, req *http.Request) error {
	if a.apiKey == "" {
		return fmt.Errorf("API key is not set")
	}
	if a.location == APIKeyInQuery {
		q := req.URL.Query()
		q.Set(a.keyName, a.apiKey)
		req.URL.RawQuery = q.Encode()
		return nil
	}
	req.Header.Set(a.keyName, a.prefix+a.apiKey)
	return nil
}

// IsExpired returns false for API keys as they don't expire automatically
func (a *APIKeyAuth) IsExpired() bool { return false }

// Refresh is a no-op for API keys
func (a *APIKeyAuth) Refresh(ctx context.Context) error { return nil }

// Type returns the authentication type
func (a *APIKeyAuth) Type() string { return "api_key" }

// QueryParamsAuth adds several fixed query parameters, e.g. an access key
// and secret key pair.
type QueryParamsAuth struct {
	params map[string]string
}

// NewQueryParamsAuth creates a provider that sets every entry of params on the URL.
func NewQueryParamsAuth(params map[string]string) *QueryParamsAuth {
	return &QueryParamsAuth{params: params}
}

// Authenticate sets the parameters on the request URL.
func (q *QueryParamsAuth) Authenticate(ctx context.Context, req *http.Request) error {
	values := req.URL.Query()
	for k, v := range q.params {
		if v == "" {
			return fmt.Errorf("query credential %q is not set", k)
		}
		values.Set(k, v)
	}
	req.URL.RawQuery = values.Encode()
	return nil
}

func (q *QueryParamsAuth) IsExpired() bool                  { return false }
func (q *QueryParamsAuth) Refresh(ctx context.Context) error { return nil }
func (q *QueryParamsAuth) Type() string                     { return "query_params" }

// BasicAuth provides HTTP Basic authentication
type BasicAuth struct {
	username string
	password string
}

// NewBasicAuth creates a new Basic authentication provider
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{username: username, password: password}
}

// Authenticate applies Basic auth to the request
func (b *BasicAuth) Authenticate(ctx context.Context, req *http.Request) error {
	if b.username == "" {
		return fmt.Errorf("username is not set")
	}
	req.SetBasicAuth(b.username, b.password)
	return nil
}

func (b *BasicAuth) IsExpired() bool                  { return false }
func (b *BasicAuth) Refresh(ctx context.Context) error { return nil }
func (b *BasicAuth) Type() string                     { return "basic" }

// BearerTokenAuth provides static Bearer token authentication
type BearerTokenAuth struct {
	token     string
	expiresAt time.Time
	mu        sync.RWMutex
}

// NewBearerTokenAuth creates a new Bearer token authentication provider.
// A zero expiresAt means the token never expires.
func NewBearerTokenAuth(token string, expiresAt time.Time) *BearerTokenAuth {
	return &BearerTokenAuth{token: token, expiresAt: expiresAt}
}

// Authenticate applies the Bearer token to the request
func (b *BearerTokenAuth) Authenticate(ctx context.Context, req *http.Request) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.token == "" {
		return fmt.Errorf("bearer token is not set")
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	return nil
}

// IsExpired checks if the token has expired
func (b *BearerTokenAuth) IsExpired() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.expiresAt.IsZero() && time.Now().After(b.expiresAt)
}

// Refresh is not supported for static tokens
func (b *BearerTokenAuth) Refresh(ctx context.Context) error {
	return fmt.Errorf("static bearer tokens cannot be refreshed")
}

// Type returns the authentication type
func (b *BearerTokenAuth) Type() string { return "bearer" }

// SetToken replaces the token
func (b *BearerTokenAuth) SetToken(token string, expiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
	b.expiresAt = expiresAt
}

// OAuthAuth authorizes requests with tokens from an oauth2.TokenSource.
// Tokens are cached and refreshed by the source when they expire.
type OAuthAuth struct {
	source oauth2.TokenSource
	mu     sync.Mutex
	last   *oauth2.Token
}

// NewOAuthAuth wraps a token source. The source is made reusable.
func NewOAuthAuth(source oauth2.TokenSource) *OAuthAuth {
	return &OAuthAuth{source: oauth2.ReuseTokenSource(nil, source)}
}

// NewClientCredentialsAuth uses the OAuth2 client-credentials grant. The
// source keeps ctx's values (such as oauth2.HTTPClient) but not its cancellation.
func NewClientCredentialsAuth(ctx context.Context, cfg *clientcredentials.Config) *OAuthAuth {
	return NewOAuthAuth(cfg.TokenSource(context.WithoutCancel(ctx)))
}

// NewRefreshTokenAuth exchanges a refresh token for access tokens. An
// existing access token is used until it expires.
func NewRefreshTokenAuth(ctx context.Context, cfg *oauth2.Config, accessToken, refreshToken string) *OAuthAuth {
	tok := &oauth2.Token{AccessToken: accessToken, RefreshToken: refreshToken}
	if accessToken == "" {
		tok.Expiry = time.Unix(1, 0)
	}
	return NewOAuthAuth(cfg.TokenSource(context.WithoutCancel(ctx), tok))
}

// Authenticate applies the current access token
func (o *OAuthAuth) Authenticate(ctx context.Context, req *http.Request) error {
	tok, err := o.token()
	if err != nil {
		return fmt.Errorf("failed to obtain OAuth token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}

func (o *OAuthAuth) token() (*oauth2.Token, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	tok, err := o.source.Token()
	if err != nil {
		return nil, err
	}
	o.last = tok
	return tok, nil
}

// IsExpired reports whether the last token seen is no longer valid.
func (o *OAuthAuth) IsExpired() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last == nil || !o.last.Valid()
}

// Refresh fetches a token from the source.
func (o *OAuthAuth) Refresh(ctx context.Context) error {
	_, err := o.token()
	return err
}

// Type returns the authentication type
func (o *OAuthAuth) Type() string { return "oauth2" }

// TokenSource exposes the underlying token source, e.g. for SDK clients.
func (o *OAuthAuth) TokenSource() oauth2.TokenSource { return o.source }

// AzureTokenAuth authorizes requests with tokens from an Azure credential.
type AzureTokenAuth struct {
	cred   azcore.TokenCredential
	scopes []string
	mu     sync.Mutex
	token  azcore.AccessToken
}

// NewAzureTokenAuth creates a provider for the given scopes, e.g.
// "https://graph.microsoft.com/.default".
func NewAzureTokenAuth(cred azcore.TokenCredential, scopes ...string) *AzureTokenAuth {
	return &AzureTokenAuth{cred: cred, scopes: scopes}
}

// Authenticate applies a cached or freshly acquired token.
func (a *AzureTokenAuth) Authenticate(ctx context.Context, req *http.Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.expiredLocked() {
		if err := a.refreshLocked(ctx); err != nil {
			return err
		}
	}
	req.Header.Set("Authorization", "Bearer "+a.token.Token)
	return nil
}

func (a *AzureTokenAuth) expiredLocked() bool {
	return a.token.Token == "" || time.Now().Add(time.Minute).After(a.token.ExpiresOn)
}

func (a *AzureTokenAuth) refreshLocked(ctx context.Context) error {
	tok, err := a.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: a.scopes})
	if err != nil {
		return fmt.Errorf("failed to acquire Azure token: %w", err)
	}
	a.token = tok
	return nil
}

// IsExpired reports whether the cached token is missing or about to expire.
func (a *AzureTokenAuth) IsExpired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expiredLocked()
}

// Refresh acquires a new token.
func (a *AzureTokenAuth) Refresh(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshLocked(ctx)
}

// Type returns the authentication type
func (a *AzureTokenAuth) Type() string { return "azure_ad" }

// ChainedAuth applies several providers in order
type ChainedAuth struct {
	providers []AuthProvider
}

// NewChainedAuth creates a new chained authentication provider
func NewChainedAuth(providers ...AuthProvider) *ChainedAuth {
	return &ChainedAuth{providers: providers}
}

// Authenticate applies all providers
func (c *ChainedAuth) Authenticate(ctx context.Context, req *http.Request) error {
	for _, p := range c.providers {
		if err := p.Authenticate(ctx, req); err != nil {
			return fmt.Errorf("%s auth failed: %w", p.Type(), err)
		}
	}
	return nil
}

// IsExpired returns true if any provider has expired credentials
func (c *ChainedAuth) IsExpired() bool {
	for _, p := range c.providers {
		if p.IsExpired() {
			return true
		}
	}
	return false
}

// Refresh refreshes every expired provider
func (c *ChainedAuth) Refresh(ctx context.Context) error {
	for _, p := range c.providers {
		if p.IsExpired() {
			if err := p.Refresh(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Type returns the authentication type
func (c *ChainedAuth) Type() string { return "chained" }
