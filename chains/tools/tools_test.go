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

package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/platform/chains/llm"
	"relayhub/platform/chains/retrieval"
	"relayhub/platform/connectors/action"
	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/registry"
	"relayhub/platform/connectors/sdk"
)

func newRunner(t *testing.T) *action.Runner {
	t.Helper()
	reg := registry.New()
	reg.RegisterFactory("crm", func() base.Connector {
		m := sdk.NewMockConnector("crm", "crm")
		m.SetActions(base.Read("find_lead", "Find a lead", "email"))
		m.SetOnQuery(func(_ context.Context, q *base.Query) (*base.QueryResult, error) {
			return &base.QueryResult{
				Rows:     []map[string]interface{}{{"email": q.Parameters["email"], "status": q.Parameters["status"]}},
				RowCount: 1,
			}, nil
		})
		return m
	})
	t.Cleanup(func() { reg.Close(context.Background()) })
	return action.NewRunner(reg)
}

func TestConnectorToolMergesJSONInput(t *testing.T) {
	tool := &ConnectorTool{
		Runner:      newRunner(t),
		Connector:   "crm",
		Action:      "find_lead",
		Params:      map[string]interface{}{"status": "open"},
		Credentials: map[string]string{"api_key": "k"},
	}
	assert.Equal(t, "crm_find_lead", tool.Name())
	assert.Contains(t, tool.Description(), "find_lead")

	out, err := tool.Call(context.Background(), `{"email":"a@example.com"}`)
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, true, got["success"])
	rows := got["rows"].([]interface{})
	row := rows[0].(map[string]interface{})
	assert.Equal(t, "a@example.com", row["email"])
	assert.Equal(t, "open", row["status"])
	assert.Equal(t, map[string]interface{}{"status": "open"}, tool.Params)
}

func TestConnectorToolInputKey(t *testing.T) {
	tool := &ConnectorTool{Runner: newRunner(t), Connector: "crm", Action: "find_lead", InputKey: "email",
		Credentials: map[string]string{"api_key": "k"}}
	out, err := tool.Call(context.Background(), " b@example.com\n")
	require.NoError(t, err)
	assert.Contains(t, out, "b@example.com")
}

func TestConnectorToolInputErrors(t *testing.T) {
	tool := &ConnectorTool{Runner: newRunner(t), Connector: "crm", Action: "find_lead",
		Credentials: map[string]string{"api_key": "k"}}
	_, err := tool.Call(context.Background(), "plain text")
	assert.ErrorContains(t, err, "expects a JSON object")

	_, err = tool.Call(context.Background(), "{broken")
	assert.ErrorContains(t, err, "not a valid JSON object")

	_, err = tool.Call(context.Background(), "")
	var missing *base.MissingParamError
	assert.ErrorAs(t, err, &missing)
}

func TestRetrieverTool(t *testing.T) {
	store := retrieval.NewMemoryVectorStore(llm.FakeEmbedder{})
	require.NoError(t, store.AddDocuments(context.Background(), []retrieval.Document{
		{PageContent: "Refunds take five business days"},
		{PageContent: "Shipping is free over fifty dollars"},
	}))
	tool := &RetrieverTool{Retriever: &retrieval.Retriever{Store: store, K: 1}}
	assert.Equal(t, "search_documents", tool.Name())

	out, err := tool.Call(context.Background(), "how long do refunds take")
	require.NoError(t, err)
	assert.Equal(t, "Refunds take five business days", out)

	tool.Retriever.ScoreThreshold = 0.999
	out, err = tool.Call(context.Background(), "unrelated words entirely")
	require.NoError(t, err)
	assert.Equal(t, "No relevant documents found.", out)
}

func TestFuncTool(t *testing.T) {
	tool := NewFunc("upper", "Uppercases input", func(_ context.Context, in string) (string, error) {
		return strings.ToUpper(in), nil
	})
	out, err := tool.Call(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)
	assert.Equal(t, "upper", tool.Name())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab...(truncated)", Truncate("abc", 2))
	assert.Equal(t, "ééé", Truncate("ééé", 0))
}
