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

// Package openai provides an OpenAI connector on go-openai. Every model
// call is reported as an llm_request usage event priced from the usage
// tables.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"relayhub/platform/common/usage"
	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/sdk"
)

// Defaults for the model options
const (
	DefaultModel           = "gpt-4o-mini"
	DefaultEmbeddingModel  = "text-embedding-3-small"
	DefaultImageModel      = "dall-e-3"
	DefaultModerationModel = "omni-moderation-latest"
)

const provider = "openai"

// Connector implements base.Connector for the OpenAI API
type Connector struct {
	*sdk.BaseConnector
	client *goopenai.Client

	mu       sync.RWMutex
	recorder usage.Recorder
}

// NewConnector creates an OpenAI connector
func NewConnector() *Connector {
	c := &Connector{BaseConnector: sdk.NewBaseConnector("openai"), recorder: usage.NopRecorder{}}
	c.SetValidator(sdk.NewDefaultConfigValidator([]string{"api_key"}, map[string]interface{}{
		"model":            DefaultModel,
		"embedding_model":  DefaultEmbeddingModel,
		"image_model":      DefaultImageModel,
		"moderation_model": DefaultModerationModel,
	}))
	c.SetCapabilities([]string{"query", "execute", "llm", "embeddings", "usage-tracking"})
	c.SetActions([]base.ActionSpec{
		base.Read("list_models", "List available models"),
		base.Read("get_model", "Get one model", "model_id"),
		base.Write("chat_completion", "Run a chat completion from messages or prompt (+ system)"),
		base.Write("create_embedding", "Embed a string or list of strings", "input"),
		base.Write("create_image", "Generate images from a prompt", "prompt"),
		base.Write("moderate", "Classify text against the moderation policy", "input"),
	})
	return c
}

// SetRecorder sets where usage events go
func (c *Connector) SetRecorder(r usage.Recorder) {
	if r == nil {
		r = usage.NopRecorder{}
	}
	c.mu.Lock()
	c.recorder = r
	c.mu.Unlock()
}

// Connect builds the client. No request is sent.
func (c *Connector) Connect(ctx context.Context, cfg *base.ConnectorConfig) error {
	if err := c.BaseConnector.Connect(ctx, cfg); err != nil {
		return err
	}
	baseURL, err := c.BaseURL(c.GetStringOption("base_url", ""))
	if err != nil {
		_ = c.BaseConnector.Disconnect(ctx)
		return err
	}
	oc := goopenai.DefaultConfig(c.GetCredential("api_key"))
	if baseURL != "" {
		oc.BaseURL = baseURL
	}
	oc.OrgID = c.GetCredential("organization")
	oc.HTTPClient = &http.Client{Timeout: c.GetTimeout()}
	c.client = goopenai.NewClientWithConfig(oc)
	return nil
}

// HealthCheck lists models
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return c.Probe(ctx, func(ctx context.Context) error {
		_, err := c.client.ListModels(ctx)
		return apiError(err)
	})
}

// Query runs a read action
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	return c.RunQuery(ctx, query, map[string]sdk.ReadHandler{
		"list_models": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			list, err := c.client.ListModels(ctx)
			if err != nil {
				return nil, apiError(err)
			}
			rows, err := base.ToRowsOf(list.Models)
			if err != nil {
				return nil, err
			}
			return &sdk.Page{Rows: rows}, nil
		},
		"get_model": func(ctx context.Context, p map[string]interface{}) (*sdk.Page, error) {
			m, err := c.client.GetModel(ctx, base.GetString(p, "model_id", ""))
			if err != nil {
				return nil, apiError(err)
			}
			row, err := base.ToMap(m)
			if err != nil {
				return nil, err
			}
			return &sdk.Page{Rows: []map[string]interface{}{row}}, nil
		},
	})
}

// Execute runs a write action
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	return c.RunCommand(ctx, cmd, map[string]sdk.WriteHandler{
		"chat_completion":  c.chatCompletion,
		"create_embedding": c.createEmbedding,
		"create_image":     c.createImage,
		"moderate":         c.moderate,
	})
}

func (c *Connector) chatCompletion(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	messages, err := Messages(p)
	if err != nil {
		return nil, err
	}
	req := goopenai.ChatCompletionRequest{
		Model:       base.GetString(p, "model", c.GetStringOption("model", DefaultModel)),
		Messages:    messages,
		MaxTokens:   base.GetInt(p, "max_tokens", 0),
		Temperature: float32(getFloat(p, "temperature", 0)),
		Stop:        base.GetStringSlice(p, "stop"),
		User:        base.GetString(p, "user", ""),
	}
	if base.GetBool(p, "json_mode", false) {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.report(ctx, "chat_completion", req.Model, goopenai.Usage{}, time.Since(start), err, nil)
		return nil, apiError(err)
	}
	cost := c.report(ctx, "chat_completion", resp.Model, resp.Usage, time.Since(start), nil, nil)

	result := map[string]interface{}{
		"id":          resp.ID,
		"model":       resp.Model,
		"usage":       usageMap(resp.Usage),
		"cost_micros": cost,
		"cost":        usage.FormatCost(cost),
	}
	if len(resp.Choices) > 0 {
		result["content"] = resp.Choices[0].Message.Content
		result["finish_reason"] = string(resp.Choices[0].FinishReason)
	}
	choices, err := base.ToRowsOf(resp.Choices)
	if err != nil {
		return nil, err
	}
	result["choices"] = choices
	return result, nil
}

func (c *Connector) createEmbedding(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	input := base.GetSlice(p, "input")
	var texts []string
	for _, v := range input {
		texts = append(texts, fmt.Sprint(v))
	}
	if len(texts) == 0 {
		if s := base.GetString(p, "input", ""); s != "" {
			texts = []string{s}
		}
	}
	if len(texts) == 0 {
		return nil, &base.MissingParamError{Param: "input"}
	}
	model := base.GetString(p, "model", c.GetStringOption("embedding_model", DefaultEmbeddingModel))
	req := goopenai.EmbeddingRequest{
		Input:      texts,
		Model:      goopenai.EmbeddingModel(model),
		Dimensions: base.GetInt(p, "dimensions", 0),
	}

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		c.report(ctx, "create_embedding", model, goopenai.Usage{}, time.Since(start), err, nil)
		return nil, apiError(err)
	}
	cost := c.report(ctx, "create_embedding", model, resp.Usage, time.Since(start), nil, map[string]interface{}{"inputs": len(texts)})

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	dims := 0
	if len(vectors) > 0 {
		dims = len(vectors[0])
	}
	return map[string]interface{}{
		"model":       model,
		"embeddings":  vectors,
		"dimensions":  dims,
		"count":       len(vectors),
		"usage":       usageMap(resp.Usage),
		"cost_micros": cost,
	}, nil
}

func (c *Connector) createImage(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	model := base.GetString(p, "model", c.GetStringOption("image_model", DefaultImageModel))
	n := base.GetInt(p, "n", 1)
	req := goopenai.ImageRequest{
		Prompt:         base.GetString(p, "prompt", ""),
		Model:          model,
		N:              n,
		Size:           base.GetString(p, "size", goopenai.CreateImageSize1024x1024),
		Quality:        base.GetString(p, "quality", ""),
		Style:          base.GetString(p, "style", ""),
		ResponseFormat: base.GetString(p, "response_format", goopenai.CreateImageResponseFormatURL),
	}

	start := time.Now()
	resp, err := c.client.CreateImage(ctx, req)
	fields := map[string]interface{}{"images": n, "size": req.Size}
	c.report(ctx, "create_image", model, goopenai.Usage{}, time.Since(start), err, fields)
	if err != nil {
		return nil, apiError(err)
	}
	images, err := base.ToRowsOf(resp.Data)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"created": resp.Created, "images": images, "count": len(images)}, nil
}

func (c *Connector) moderate(ctx context.Context, p map[string]interface{}) (map[string]interface{}, error) {
	model := base.GetString(p, "model", c.GetStringOption("moderation_model", DefaultModerationModel))
	start := time.Now()
	resp, err := c.client.Moderations(ctx, goopenai.ModerationRequest{
		Input: base.GetString(p, "input", ""),
		Model: model,
	})
	c.report(ctx, "moderate", model, goopenai.Usage{}, time.Since(start), err, nil)
	if err != nil {
		return nil, apiError(err)
	}
	flagged := false
	for _, r := range resp.Results {
		flagged = flagged || r.Flagged
	}
	results, err := base.ToRowsOf(resp.Results)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": resp.ID, "model": resp.Model, "flagged": flagged, "results": results}, nil
}

// report emits an llm_request event and returns its cost
func (c *Connector) report(ctx context.Context, action, model string, u goopenai.Usage, latency time.Duration, err error, fields map[string]interface{}) int64 {
	e := usage.LLMEvent(provider, model, u.PromptTokens, u.CompletionTokens, latency)
	e.Connector = c.Type()
	e.Action = action
	e.TenantID = sdk.GetTenantID(ctx)
	e.RequestID = sdk.GetRequestID(ctx)
	e.Fields = fields
	if err != nil {
		e.Success = false
		e.Error = err.Error()
	}
	c.mu.RLock()
	rec := c.recorder
	c.mu.RUnlock()
	rec.Report(e)
	return e.CostMicros
}

// Messages builds the chat transcript from either a messages list of
// {role, content} objects or a prompt with an optional system message.
func Messages(p map[string]interface{}) ([]goopenai.ChatCompletionMessage, error) {
	var out []goopenai.ChatCompletionMessage
	for i, raw := range base.GetSlice(p, "messages") {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("messages[%d] must be an object with role and content", i)
		}
		role := base.GetString(m, "role", goopenai.ChatMessageRoleUser)
		switch role {
		case goopenai.ChatMessageRoleSystem, goopenai.ChatMessageRoleUser, goopenai.ChatMessageRoleAssistant:
		default:
			return nil, fmt.Errorf("messages[%d] has unsupported role %q", i, role)
		}
		out = append(out, goopenai.ChatCompletionMessage{
			Role:    role,
			Content: base.GetString(m, "content", ""),
			Name:    base.GetString(m, "name", ""),
		})
	}
	if len(out) > 0 {
		return out, nil
	}

	prompt := base.GetString(p, "prompt", "")
	if prompt == "" {
		return nil, &base.MissingParamError{Param: "messages or prompt"}
	}
	if system := base.GetString(p, "system", ""); system != "" {
		out = append(out, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: system})
	}
	return append(out, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt}), nil
}

// apiError maps go-openai errors onto base.APIError so callers can
// branch on status codes.
func apiError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &base.APIError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &base.APIError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}

func usageMap(u goopenai.Usage) map[string]interface{} {
	return map[string]interface{}{
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
		"total_tokens":      u.TotalTokens,
	}
}

func getFloat(p map[string]interface{}, key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f
		}
	}
	return def
}

var (
	_ base.Connector       = (*Connector)(nil)
	_ base.ActionDescriber = (*Connector)(nil)
)
