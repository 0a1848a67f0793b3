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

// Package http provides a generic REST connector. Reads are GET requests
// and writes map one action per HTTP method against a configured base URL.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

// Auth types accepted by the auth_type option
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
	AuthAPIKey = "api-key"
	AuthOAuth2 = "oauth2"
)

// DefaultAPIKeyHeader is used for api-key auth when header_name is unset
const DefaultAPIKeyHeader = "X-API-Key"

// Parameters consumed by the connector rather than forwarded
var reserved = map[string]bool{
	"path":     true,
	"query":    true,
	"headers":  true,
	"body":     true,
	"rows_key": true,
	"limit":    true,
}

// Connector implements base.Connector for arbitrary REST APIs
type Connector struct {
	*sdk.BaseConnector
	client   *sdk.RESTClient
	authType string
}

// NewConnector creates an HTTP connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("http")}
	c.SetValidator(sdk.NewDefaultConfigValidator(nil, map[string]interface{}{
		"auth_type":   AuthNone,
		"health_path": "/",
	}))
	c.SetCapabilities([]string{"query", "execute", "rest-api", "retry", "ssrf-protection"})
	c.SetActions([]base.ActionSpec{
		base.Read("get", "GET a path; extra parameters become the query string", "path"),
		base.Write("post", "POST a JSON body to a path", "path"),
		base.Write("put", "PUT a JSON body to a path", "path"),
		base.Write("patch", "PATCH a JSON body to a path", "path"),
		base.Write("delete", "DELETE a path", "path"),
	})
	return c
}

// Connect validates the base URL and auth settings and builds the client.
// No request is sent.
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}
	client, err := c.build(cfg)
	if err != nil {
		_ = c.BaseConnector.Disconnect(ctx)
		return err
	}
	c.client = client
	c.Logger().Infow("http connector ready", "base_url", client.BaseURL, "auth", c.authType)
	return nil
}

func (c *Connector) build(cfg *base.ConnectorConfig) (*sdk.RESTClient, error) {
	baseURL := cfg.ConnectionURL
	if baseURL == "" {
		baseURL = c.GetStringOption("base_url", "")
	}
	if baseURL == "" {
		return nil, base.NewConnectorError(cfg.Name, "Connect", "base_url is required", nil)
	}
	opts := base.DefaultURLValidationOptions()
	opts.AllowPrivateIPs = c.GetBoolOption("allow_private_ips", false)
	if err := base.ValidateURL(baseURL, opts); err != nil {
		return nil, base.NewConnectorError(cfg.Name, "Connect", "invalid base_url", err)
	}

	c.authType = strings.ToLower(c.GetStringOption("auth_type", AuthNone))
	auth, err := c.authProvider()
	if err != nil {
		return nil, base.NewConnectorError(cfg.Name, "Connect", err.Error(), nil)
	}

	client := c.NewRESTClient(baseURL, auth)
	client.HTTPClient = c.httpClient(client.HTTPClient.Timeout)
	if n := c.GetIntOption("max_response_size", 0); n > 0 {
		client.MaxResponseBytes = int64(n)
	}
	if headers, ok := cfg.Options["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				client.Headers[k] = s
			}
		}
	}
	return client, nil
}

func (c *Connector) authProvider() (sdk.AuthProvider, error) {
	switch c.authType {
	case AuthNone, "":
		return nil, nil
	case AuthBearer:
		token := c.GetCredential("token")
		if token == "" {
			return nil, fmt.Errorf("bearer auth requires the token credential")
		}
		return sdk.NewBearerTokenAuth(token, time.Time{}), nil
	case AuthOAuth2:
		token := c.GetCredential("access_token")
		if token == "" {
			return nil, fmt.Errorf("oauth2 auth requires the access_token credential")
		}
		return sdk.NewBearerTokenAuth(token, time.Time{}), nil
	case AuthBasic:
		user := c.GetCredential("username")
		if user == "" {
			return nil, fmt.Errorf("basic auth requires the username credential")
		}
		return sdk.NewBasicAuth(user, c.GetCredential("password")), nil
	case AuthAPIKey:
		key := c.GetCredential("api_key")
		if key == "" {
			return nil, fmt.Errorf("api-key auth requires the api_key credential")
		}
		header := c.GetCredential("header_name")
		if header == "" {
			header = c.GetStringOption("header_name", DefaultAPIKeyHeader)
		}
		return sdk.NewHeaderAuth(header, "", key), nil
	}
	return nil, fmt.Errorf("unsupported auth_type %q", c.authType)
}

func (c *Connector) httpClient(timeout time.Duration) *http.Client {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.GetBoolOption("tls_skip_verify", false) {
		tlsConfig.InsecureSkipVerify = true
		c.Logger().Warnw("TLS verification disabled", "connector", c.Name())
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
			MaxIdleConns:    100,
			MaxConnsPerHost: 10,
			IdleConnTimeout: 90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}
	if c.GetBoolOption("disable_redirects", false) {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// Disconnect releases idle connections
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client != nil && c.client.HTTPClient != nil {
		c.client.HTTPClient.CloseIdleConnections()
	}
	return c.BaseConnector.Disconnect(ctx)
}

// HealthCheck GETs the health_path option
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	status, err := c.Probe(ctx, func(ctx context.Context) error {
		_, err := c.client.Do(ctx, &sdk.Request{Method: http.MethodGet, Path: c.GetStringOption("health_path", "/")})
		return err
	})
	if status != nil && c.client != nil {
		if status.Details == nil {
			status.Details = map[string]string{}
		}
		status.Details["base_url"] = c.client.BaseURL
		status.Details["auth_type"] = c.authType
	}
	return status, err
}

// Query runs the get action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"get": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			req, err := request(http.MethodGet, p)
			if err != nil {
				return nil, err
			}
			for k, v := range p {
				if !reserved[k] && !strings.HasPrefix(k, "_") {
					req.Query.Set(k, fmt.Sprint(v))
				}
			}
			resp, err := c.client.Do(ctx, req)
			if err != nil {
				return nil, err
			}
			v, err := resp.Decode()
			if err != nil {
				return &sdk.Page{Rows: []map[string]interface{}{{"response": string(resp.Body)}}}, nil
			}
			meta := map[string]interface{}{"status_code": resp.StatusCode}
			if key := base.GetString(p, "rows_key", ""); key != "" {
				if obj, ok := v.(map[string]interface{}); ok {
					return &sdk.Page{Rows: base.RowsFrom(obj, key), Metadata: meta}, nil
				}
			}
			return &sdk.Page{Rows: base.ToRows(v), Metadata: meta}, nil
		},
	})
}

// Execute runs post, put, patch or delete
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	handlers := make(map[string]sdk.WriteHandler, 4)
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		handlers[strings.ToLower(method)] = c.write(method)
	}
	return c.RunCommand(ctx, cmd, handlers)
}

func (c *Connector) write(method string) sdk.WriteHandler {
	return func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
		req, err := request(method, p)
		if err != nil {
			return nil, err
		}
		if body, ok := p["body"]; ok {
			req.JSON = body
		} else {
			rest := map[string]interface{}{}
			for k, v := range p {
				if !reserved[k] && !strings.HasPrefix(k, "_") {
					rest[k] = v
				}
			}
			if len(rest) > 0 {
				req.JSON = rest
			}
		}
		return c.client.DoObject(ctx, req)
	}
}

// request builds a relative request from the path, query and headers
// parameters. Absolute URLs are refused so calls stay on the base URL.
func request(method string, p map[string]interface{}) (*sdk.Request, error) {
	path := base.GetString(p, "path", "")
	if strings.Contains(path, "://") || strings.HasPrefix(path, "//") {
		return nil, sdk.NonRetryable(fmt.Errorf("path must be relative to base_url"))
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req := &sdk.Request{Method: method, Path: path, Query: url.Values{}, Headers: map[string]string{}}
	for k, v := range base.GetMap(p, "query") {
		req.Query.Set(k, fmt.Sprint(v))
	}
	for k, v := range base.GetMap(p, "headers") {
		req.Headers[k] = fmt.Sprint(v)
	}
	return req, nil
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
