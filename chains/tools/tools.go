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

// Package tools exposes callable capabilities to agents. Every tool takes
// a string input and returns a string observation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"relayhub/platform/chains/retrieval"
	"relayhub/platform/connectors/action"
)

// DefaultMaxOutput caps observation length in runes
const DefaultMaxOutput = 4000

// Tool is something an agent can call
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input string) (string, error)
}

// Func adapts a function to Tool
type Func struct {
	ToolName string
	Desc     string
	Fn       func(ctx context.Context, input string) (string, error)
}

// NewFunc creates a function tool
func NewFunc(name, description string, fn func(ctx context.Context, input string) (string, error)) *Func {
	return &Func{ToolName: name, Desc: description, Fn: fn}
}

// Name implements Tool
func (f *Func) Name() string { return f.ToolName }

// Description implements Tool
func (f *Func) Description() string { return f.Desc }

// Call runs the function
func (f *Func) Call(ctx context.Context, input string) (string, error) { return f.Fn(ctx, input) }

// ActionRunner runs connector actions. *action.Runner satisfies it.
type ActionRunner interface {
	Run(ctx context.Context, req *action.Request) (*action.Response, error)
}

// ConnectorTool runs one connector action. The agent's input is parsed as
// a JSON object and merged over Params; a non-JSON input is passed under
// InputKey when one is set.
type ConnectorTool struct {
	Runner        ActionRunner
	ToolName      string
	Desc          string
	Connector     string
	Profile       string
	Action        string
	Params        map[string]interface{}
	Credentials   map[string]string
	CredentialRef string
	InputKey      string
	MaxOutput     int
}

// Name defaults to connector_action
func (t *ConnectorTool) Name() string {
	if t.ToolName != "" {
		return t.ToolName
	}
	return t.Connector + "_" + t.Action
}

// Description implements Tool
func (t *ConnectorTool) Description() string {
	if t.Desc != "" {
		return t.Desc
	}
	return fmt.Sprintf("Runs the %s action of the %s connector. Input is a JSON object of parameters.", t.Action, t.Connector)
}

// Call implements Tool
func (t *ConnectorTool) Call(ctx context.Context, input string) (string, error) {
	params, err := t.params(input)
	if err != nil {
		return "", err
	}
	resp, err := t.Runner.Run(ctx, &action.Request{
		Connector:     t.Connector,
		Profile:       t.Profile,
		Action:        t.Action,
		Params:        params,
		Credentials:   t.Credentials,
		CredentialRef: t.CredentialRef,
	})
	if err != nil {
		return "", err
	}
	out := map[string]interface{}{"success": resp.Success}
	if len(resp.Data) > 0 {
		out["data"] = resp.Data
	}
	if len(resp.Rows) > 0 {
		out["rows"] = resp.Rows
		out["row_count"] = resp.RowCount
	}
	if resp.Message != "" {
		out["message"] = resp.Message
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return Truncate(string(data), t.MaxOutput), nil
}

func (t *ConnectorTool) params(input string) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(t.Params)+1)
	for k, v := range t.Params {
		params[k] = v
	}
	input = strings.TrimSpace(input)
	switch {
	case input == "":
	case strings.HasPrefix(input, "{"):
		var extra map[string]interface{}
		if err := json.Unmarshal([]byte(input), &extra); err != nil {
			return nil, fmt.Errorf("tool %s: input is not a valid JSON object: %w", t.Name(), err)
		}
		for k, v := range extra {
			params[k] = v
		}
	case t.InputKey != "":
		params[t.InputKey] = input
	default:
		return nil, fmt.Errorf("tool %s expects a JSON object of parameters", t.Name())
	}
	return params, nil
}

// RetrieverTool returns the documents matching the input query
type RetrieverTool struct {
	Retriever *retrieval.Retriever
	ToolName  string
	Desc      string
	MaxOutput int
}

// Name implements Tool
func (t *RetrieverTool) Name() string {
	if t.ToolName != "" {
		return t.ToolName
	}
	return "search_documents"
}

// Description implements Tool
func (t *RetrieverTool) Description() string {
	if t.Desc != "" {
		return t.Desc
	}
	return "Searches the knowledge base. Input is a natural language query."
}

// Call implements Tool
func (t *RetrieverTool) Call(ctx context.Context, input string) (string, error) {
	docs, err := t.Retriever.GetRelevantDocuments(ctx, strings.TrimSpace(input))
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "No relevant documents found.", nil
	}
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.PageContent
	}
	return Truncate(strings.Join(parts, "\n\n"), t.MaxOutput), nil
}

// Truncate cuts s to max runes, DefaultMaxOutput when max is zero
func Truncate(s string, max int) string {
	if max <= 0 {
		max = DefaultMaxOutput
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "...(truncated)"
}

var (
	_ Tool = (*Func)(nil)
	_ Tool = (*ConnectorTool)(nil)
	_ Tool = (*RetrieverTool)(nil)
)
