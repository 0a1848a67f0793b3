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
	"errors"
	"strings"
	"testing"
	"time"

	"relayhub/platform/connectors/base"
)

func connectedBase(t *testing.T) *BaseConnector {
	t.Helper()
	c := NewBaseConnector("unit")
	c.SetActions([]base.ActionSpec{
		base.Read("list", "List items"),
		base.Read("get", "Get item", "id"),
		base.Write("create", "Create item", "name"),
	})
	if err := c.Connect(context.Background(), &base.ConnectorConfig{Name: "unit-1", Type: "unit"}); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestBaseConnector_ConnectDefaults(t *testing.T) {
	c := connectedBase(t)
	if !c.IsConnected() {
		t.Error("expected connected")
	}
	if c.Name() != "unit-1" || c.Type() != "unit" {
		t.Errorf("Name/Type = %s/%s", c.Name(), c.Type())
	}
	if c.GetTimeout() != DefaultTimeout {
		t.Errorf("timeout = %v", c.GetTimeout())
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.IsConnected() {
		t.Error("expected disconnected")
	}
}

func TestBaseConnector_ConnectValidation(t *testing.T) {
	c := NewBaseConnector("unit")
	c.SetValidator(NewDefaultConfigValidator([]string{"api_key"}, map[string]interface{}{"page_size": 10}))

	err := c.Connect(context.Background(), &base.ConnectorConfig{Name: "x", Type: "unit"})
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected missing api_key, got %v", err)
	}

	cfg := &base.ConnectorConfig{Name: "x", Type: "unit", Credentials: map[string]string{"api_key": "k"}}
	if err := c.Connect(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if c.GetIntOption("page_size", 0) != 10 {
		t.Error("default option not applied")
	}
	if c.GetCredential("api_key") != "k" {
		t.Error("credential not readable")
	}
}

func TestBaseConnector_RunQuery(t *testing.T) {
	c := connectedBase(t)
	handlers := map[string]ReadHandler{
		"list": func(ctx context.Context, p map[string]interface{}) (*Page, error) {
			return &Page{
				Rows:     []map[string]interface{}{{"id": 1}, {"id": 2}, {"id": 3}},
				Metadata: map[string]interface{}{"next_cursor": "abc"},
			}, nil
		},
		"get": func(ctx context.Context, p map[string]interface{}) (*Page, error) {
			return &Page{Rows: []map[string]interface{}{{"id": p["id"]}}}, nil
		},
	}

	res, err := c.RunQuery(context.Background(), &base.Query{Statement: "list", Limit: 2}, handlers)
	if err != nil {
		t.Fatal(err)
	}
	if res.RowCount != 2 || res.Metadata["next_cursor"] != "abc" || res.Connector != "unit-1" {
		t.Errorf("result = %+v", res)
	}

	_, err = c.RunQuery(context.Background(), &base.Query{Statement: "get"}, handlers)
	var missing *base.MissingParamError
	if !errors.As(err, &missing) || missing.Param != "id" {
		t.Errorf("expected missing id, got %v", err)
	}

	_, err = c.RunQuery(context.Background(), &base.Query{Statement: "nope"}, handlers)
	if !errors.Is(err, base.ErrUnknownAction) {
		t.Errorf("expected unknown action, got %v", err)
	}
}

func TestBaseConnector_RunQueryWrapsHandlerError(t *testing.T) {
	c := connectedBase(t)
	apiErr := base.NewAPIError("GET", "https://x", 403, []byte("forbidden"))
	_, err := c.RunQuery(context.Background(), &base.Query{Statement: "list"}, map[string]ReadHandler{
		"list": func(ctx context.Context, p map[string]interface{}) (*Page, error) { return nil, apiErr },
	})
	var ce *base.ConnectorError
	if !errors.As(err, &ce) || ce.Operation != "Query" {
		t.Fatalf("expected ConnectorError, got %v", err)
	}
	if !base.IsStatus(err, 403) {
		t.Error("APIError should be reachable through the ConnectorError")
	}
}

func TestBaseConnector_RunCommand(t *testing.T) {
	c := connectedBase(t)
	handlers := map[string]WriteHandler{
		"create": func(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"id": "new", "name": p["name"]}, nil
		},
	}
	res, err := c.RunCommand(context.Background(), &base.Command{Action: "create", Parameters: map[string]interface{}{"name": "n"}}, handlers)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Data["id"] != "new" || res.RowsAffected != 1 {
		t.Errorf("result = %+v", res)
	}
	if c.GetMetrics().GetStats().ExecutesTotal != 1 {
		t.Error("execute not recorded")
	}
}

func TestBaseConnector_NotConnected(t *testing.T) {
	c := NewBaseConnector("unit")
	_, err := c.RunQuery(context.Background(), &base.Query{Statement: "list"}, map[string]ReadHandler{
		"list": func(ctx context.Context, p map[string]interface{}) (*Page, error) { return &Page{}, nil },
	})
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("expected not connected, got %v", err)
	}
}

func TestBaseConnector_RateLimitOption(t *testing.T) {
	c := NewBaseConnector("unit")
	c.SetActions([]base.ActionSpec{base.Read("list", "List items")})
	cfg := &base.ConnectorConfig{Name: "unit-1", Type: "unit", Options: map[string]interface{}{"rate_limit": 0.01}}
	if err := c.Connect(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	handlers := map[string]ReadHandler{
		"list": func(ctx context.Context, p map[string]interface{}) (*Page, error) { return &Page{}, nil },
	}
	if _, err := c.RunQuery(context.Background(), &base.Query{Statement: "list"}, handlers); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.RunQuery(ctx, &base.Query{Statement: "list"}, handlers)
	if err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Errorf("expected the second call to wait on the limiter, got %v", err)
	}
}

func TestBaseConnector_Timeout(t *testing.T) {
	c := connectedBase(t)
	_, err := c.RunQuery(context.Background(), &base.Query{Statement: "list", Timeout: 10 * time.Millisecond}, map[string]ReadHandler{
		"list": func(ctx context.Context, p map[string]interface{}) (*Page, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestBaseConnector_Probe(t *testing.T) {
	c := connectedBase(t)
	status, _ := c.Probe(context.Background(), func(ctx context.Context) error { return errors.New("401") })
	if status.Healthy || status.Error != "401" {
		t.Errorf("status = %+v", status)
	}
	status, _ = c.Probe(context.Background(), func(ctx context.Context) error { return nil })
	if !status.Healthy {
		t.Errorf("status = %+v", status)
	}
}

func TestBaseConnector_RetryConfig(t *testing.T) {
	c := NewBaseConnector("unit")
	tests := []struct {
		max  int
		want int
	}{{0, 2}, {5, 5}, {-1, 0}}
	for _, tt := range tests {
		_ = c.Connect(context.Background(), &base.ConnectorConfig{Name: "r", Type: "unit", MaxRetries: tt.max})
		if got := c.RetryConfig().MaxRetries; got != tt.want {
			t.Errorf("MaxRetries(%d) = %d, want %d", tt.max, got, tt.want)
		}
	}
}

func TestBaseConnector_BaseURL(t *testing.T) {
	c := NewBaseConnector("unit")
	_ = c.Connect(context.Background(), &base.ConnectorConfig{Name: "u", Type: "unit"})
	if got, _ := c.BaseURL("https://api.default.com"); got != "https://api.default.com" {
		t.Errorf("default = %q", got)
	}

	_ = c.Connect(context.Background(), &base.ConnectorConfig{Name: "u", Type: "unit", ConnectionURL: "http://127.0.0.1:9000"})
	if _, err := c.BaseURL("https://api.default.com"); err == nil {
		t.Error("loopback override should be rejected")
	}

	_ = c.Connect(context.Background(), &base.ConnectorConfig{
		Name: "u", Type: "unit", ConnectionURL: "http://127.0.0.1:9000",
		Options: map[string]interface{}{"allow_private_ips": true},
	})
	if got, err := c.BaseURL("https://api.default.com"); err != nil || got != "http://127.0.0.1:9000" {
		t.Errorf("allowed override = %q, %v", got, err)
	}
}
