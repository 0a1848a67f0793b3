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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"relayhub/platform/connectors/base"
)

func testClient(serverURL string) *RESTClient {
	c := NewRESTClient(serverURL, 5*time.Second)
	c.Retry = fastRetry(2)
	return c
}

func TestRESTClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/items" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("limit = %q", r.URL.Query().Get("limit"))
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Custom") != "1" {
			t.Error("default header missing")
		}
		_, _ = w.Write([]byte(`{"items":[{"id":"a"}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.Auth = NewBearerTokenAuth("tok", time.Time{})
	c.Headers["X-Custom"] = "1"

	obj, err := c.Get(context.Background(), "v1/items", url.Values{"limit": {"5"}})
	if err != nil {
		t.Fatal(err)
	}
	rows := base.RowsFrom(obj, "items")
	if len(rows) != 1 || rows[0]["id"] != "a" {
		t.Errorf("rows = %v", rows)
	}
}

func TestRESTClient_PostJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "n" {
			t.Errorf("body = %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	obj, err := testClient(srv.URL).Post(context.Background(), "/things", map[string]string{"name": "n"})
	if err != nil {
		t.Fatal(err)
	}
	if obj["id"] != "1" {
		t.Errorf("obj = %v", obj)
	}
}

func TestRESTClient_ErrorBodySurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"email is invalid"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Post(context.Background(), "/contacts", map[string]string{})
	var apiErr *base.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != 422 || !strings.Contains(apiErr.Body, "email is invalid") {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestRESTClient_RetriesIdempotent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	obj, err := testClient(srv.URL).Get(context.Background(), "/x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if obj["ok"] != true || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("obj = %v, calls = %d", obj, calls)
	}
}

func TestRESTClient_DoesNotRetryPost(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Post(context.Background(), "/send", map[string]string{})
	if !base.IsStatus(err, 503) {
		t.Errorf("expected 503, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	atomic.StoreInt32(&calls, 0)
	_, _ = testClient(srv.URL).DoObject(context.Background(), &Request{Method: http.MethodPost, Path: "/search", JSON: map[string]string{}, Idempotent: true})
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("idempotent POST calls = %d, want 3", calls)
	}
}

func TestRESTClient_NonJSONAndEmptyBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/text":
			_, _ = w.Write([]byte("plain response"))
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/array":
			_, _ = w.Write([]byte(`[1,2]`))
		}
	}))
	defer srv.Close()
	c := testClient(srv.URL)

	obj, _ := c.Get(context.Background(), "/text", nil)
	if obj["response"] != "plain response" {
		t.Errorf("text = %v", obj)
	}
	obj, _ = c.Get(context.Background(), "/empty", nil)
	if len(obj) != 0 {
		t.Errorf("empty = %v", obj)
	}
	obj, _ = c.Get(context.Background(), "/array", nil)
	if arr, ok := obj["results"].([]interface{}); !ok || len(arr) != 2 {
		t.Errorf("array = %v", obj)
	}
}

func TestRESTClient_FormAndRawBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"content_type": r.Header.Get("Content-Type"),
			"body":         string(body),
		})
	}))
	defer srv.Close()
	c := testClient(srv.URL)

	obj, err := c.DoObject(context.Background(), &Request{Method: http.MethodPost, Path: "/f", Form: url.Values{"a": {"1"}}})
	if err != nil {
		t.Fatal(err)
	}
	if obj["content_type"] != "application/x-www-form-urlencoded" || obj["body"] != "a=1" {
		t.Errorf("form = %v", obj)
	}

	obj, _ = c.DoObject(context.Background(), &Request{Method: http.MethodPost, Path: "/r", Body: []byte("raw"), ContentType: "text/plain"})
	if obj["content_type"] != "text/plain" || obj["body"] != "raw" {
		t.Errorf("raw = %v", obj)
	}
}

func TestRESTClient_QueryCredentialsRedactedInErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.Auth = NewQueryParamsAuth(map[string]string{"secretKey": "s3cr3t"})
	_, err := c.Get(context.Background(), "/leads", nil)
	if err == nil || strings.Contains(err.Error(), "s3cr3t") {
		t.Errorf("secret leaked or no error: %v", err)
	}
}

func TestRESTClient_AbsolutePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	defer srv.Close()

	c := testClient("https://unused.example.com")
	obj, err := c.Get(context.Background(), srv.URL+"/abs", nil)
	if err != nil {
		t.Fatal(err)
	}
	if obj["path"] != "/abs" {
		t.Errorf("obj = %v", obj)
	}
}

func TestRESTClient_OversizedBodyIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fits":
			_, _ = w.Write([]byte("12345678"))
		case "/over":
			_, _ = w.Write([]byte("123456789"))
		case "/failed":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(strings.Repeat("e", 64)))
		}
	}))
	defer srv.Close()
	c := testClient(srv.URL)
	c.MaxResponseBytes = 8

	obj, err := c.Get(context.Background(), "/fits", nil)
	if err != nil || obj["response"] != "12345678" {
		t.Fatalf("body at the limit: %v, %v", obj, err)
	}

	obj, err = c.Get(context.Background(), "/over", nil)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v (%v)", err, obj)
	}
	if obj != nil {
		t.Errorf("no partial body may be returned, got %v", obj)
	}

	_, err = c.Get(context.Background(), "/failed", nil)
	var apiErr *base.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
	if errors.Is(err, ErrResponseTooLarge) {
		t.Error("oversized error bodies still surface the upstream status")
	}
}
