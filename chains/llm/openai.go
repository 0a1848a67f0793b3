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

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"relayhub/platform/connectors/base"
)

// OpenAI defaults
const (
	ProviderOpenAI        = "openai"
	DefaultModel          = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultTimeout        = 60 * time.Second
)

// OpenAIConfig configures the OpenAI client
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Organization   string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// OpenAI implements Model and Embedder on the chat completions and
// embeddings endpoints.
type OpenAI struct {
	client         *goopenai.Client
	model          string
	embeddingModel string
}

// NewOpenAI builds a client. No request is sent.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, &base.MissingParamError{Param: "api_key"}
	}
	oc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.OrgID = cfg.Organization
	switch {
	case cfg.HTTPClient != nil:
		oc.HTTPClient = cfg.HTTPClient
	case cfg.Timeout > 0:
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	default:
		oc.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	o := &OpenAI{
		client:         goopenai.NewClientWithConfig(oc),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
	}
	if o.model == "" {
		o.model = DefaultModel
	}
	if o.embeddingModel == "" {
		o.embeddingModel = DefaultEmbeddingModel
	}
	return o, nil
}

// Generate runs a chat completion
func (o *OpenAI) Generate(ctx context.Context, messages []Message, opts CallOptions) (*Generation, error) {
	req := goopenai.ChatCompletionRequest{
		Model:     opts.Model,
		MaxTokens: opts.MaxTokens,
		Stop:      opts.Stop,
	}
	if req.Model == "" {
		req.Model = o.model
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.JSONMode {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, apiError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &Generation{
		Content:      resp.Choices[0].Message.Content,
		Provider:     ProviderOpenAI,
		Model:        model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Embed embeds texts with the configured embedding model
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		return nil, apiError(err)
	}
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("llm: no embedding returned for input %d", i)
		}
	}
	return vectors, nil
}

func apiError(err error) error {
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

var (
	_ Model    = (*OpenAI)(nil)
	_ Embedder = (*OpenAI)(nil)
)
