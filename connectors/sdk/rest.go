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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relayhub/platform/connectors/base"
)

// DefaultMaxResponseBytes caps how much of a response body is read.
const DefaultMaxResponseBytes = 10 * 1024 * 1024

// ErrResponseTooLarge is returned for a successful response whose body
// exceeds MaxResponseBytes.
var ErrResponseTooLarge = errors.New("response body too large")

// RESTClient issues JSON requests against one service.
type RESTClient struct {
	BaseURL          string
	HTTPClient       *http.Client
	Auth             AuthProvider
	Headers          map[string]string
	Retry            *RetryConfig
	MaxResponseBytes int64
	UserAgent        string
}

// NewRESTClient creates a client with the given base URL and timeout.
func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTClient{
		BaseURL:          strings.TrimRight(baseURL, "/"),
		HTTPClient:       &http.Client{Timeout: timeout},
		Headers:          map[string]string{},
		Retry:            DefaultRetryConfig(),
		MaxResponseBytes: DefaultMaxResponseBytes,
		UserAgent:        "relayhub-connector/" + Version,
	}
}

// Request describes one call.
type Request struct {
	Method  string
	Path    string // Joined to BaseURL unless absolute
	Query   url.Values
	Headers map[string]string

	JSON        interface{} // Encoded as the JSON body when set
	Form        url.Values  // Encoded as a form body when set
	Body        []byte      // Raw body
	ContentType string

	// Idempotent marks POST reads (search, query) as safe to retry.
	Idempotent bool
	// NoAuth skips the client's auth provider.
	NoAuth bool
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into an arbitrary JSON value. Empty bodies
// decode to nil.
func (r *Response) Decode() (interface{}, error) {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Object returns the body as a JSON object. Arrays are placed under
// "results", and non-JSON text under "response".
func (r *Response) Object() map[string]interface{} {
	v, err := r.Decode()
	if err != nil {
		return map[string]interface{}{"response": string(r.Body)}
	}
	switch val := v.(type) {
	case nil:
		return map[string]interface{}{}
	case map[string]interface{}:
		return val
	case []interface{}:
		return map[string]interface{}{"results": val}
	default:
		return map[string]interface{}{"response": val}
	}
}

// Into unmarshals the body into out.
func (r *Response) Into(out interface{}) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, out)
}

// Do sends the request. Idempotent requests are retried on transient
// failures. Non-2xx statuses return *base.APIError.
func (c *RESTClient) Do(ctx context.Context, req *Request) (*Response, error) {
	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, NonRetryable(err)
	}

	retry := c.Retry
	if !isIdempotent(req) {
		retry = &RetryConfig{MaxRetries: 0}
	}
	return RetryWithBackoff(ctx, retry, func() (*Response, error) {
		return c.once(ctx, req, body, contentType)
	})
}

// DoObject sends the request and returns the body as a JSON object.
func (c *RESTClient) DoObject(ctx context.Context, req *Request) (map[string]interface{}, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Object(), nil
}

// Get is shorthand for a GET returning a JSON object.
func (c *RESTClient) Get(ctx context.Context, path string, query url.Values) (map[string]interface{}, error) {
	return c.DoObject(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post is shorthand for a POST with a JSON body.
func (c *RESTClient) Post(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	return c.DoObject(ctx, &Request{Method: http.MethodPost, Path: path, JSON: body})
}

func (c *RESTClient) once(ctx context.Context, req *Request, body []byte, contentType string) (*Response, error) {
	target := c.resolve(req.Path)
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, NonRetryable(fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.UserAgent)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if c.Auth != nil && !req.NoAuth {
		if err := c.Auth.Authenticate(ctx, httpReq); err != nil {
			return nil, NonRetryable(fmt.Errorf("authentication failed: %w", err))
		}
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	httpResp, err := client.Do(httpReq)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = redact(urlErr.URL)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	limit := c.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	ok := httpResp.StatusCode >= 200 && httpResp.StatusCode < 300
	if int64(len(respBody)) > limit {
		if ok {
			return nil, NonRetryable(fmt.Errorf("%w: %s %s exceeded %d bytes", ErrResponseTooLarge, req.Method, redact(target), limit))
		}
		// Error bodies are only surfaced in messages; keep what fits.
		respBody = respBody[:limit]
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: respBody}
	if !ok {
		apiErr := base.NewAPIError(req.Method, redact(target), httpResp.StatusCode, respBody)
		if IsRetryableStatus(httpResp.StatusCode) {
			return nil, &RetryableError{Err: apiErr, RetryAfter: ParseRetryAfter(httpResp.Header.Get("Retry-After"))}
		}
		return nil, NonRetryable(apiErr)
	}
	return resp, nil
}

func (c *RESTClient) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL + path
}

// NonRetryable marks err as permanent.
func NonRetryable(err error) error {
	return &NonRetryableError{Err: err}
}

func isIdempotent(req *Request) bool {
	if req.Idempotent {
		return true
	}
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

func encodeBody(req *Request) ([]byte, string, error) {
	switch {
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		return b, firstNonEmpty(req.ContentType, "application/json"), nil
	case req.Form != nil:
		return []byte(req.Form.Encode()), firstNonEmpty(req.ContentType, "application/x-www-form-urlencoded"), nil
	case req.Body != nil:
		return req.Body, firstNonEmpty(req.ContentType, "application/octet-stream"), nil
	}
	return nil, req.ContentType, nil
}

// redact strips query strings so credentials passed as parameters never reach errors or logs.
func redact(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
