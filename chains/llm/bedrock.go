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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"relayhub/platform/connectors/base"
)

// Bedrock defaults
const (
	ProviderBedrock              = "bedrock"
	DefaultBedrockRegion         = "us-east-1"
	DefaultBedrockModel          = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	DefaultBedrockEmbeddingModel = "amazon.titan-embed-text-v2:0"
	defaultBedrockMaxTokens      = 1024
)

// BedrockRuntime is the part of the Bedrock runtime client used here.
// *bedrockruntime.Client satisfies it.
type BedrockRuntime interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockConfig configures the Bedrock model. Credentials come from the
// default AWS chain unless Client is set.
type BedrockConfig struct {
	Region         string
	Model          string
	EmbeddingModel string
	Client         BedrockRuntime
}

// Bedrock implements Model and Embedder on InvokeModel. The request body
// follows the model family named by the model ID.
type Bedrock struct {
	client         BedrockRuntime
	region         string
	model          string
	embeddingModel string
}

// NewBedrock builds a client. Loading the AWS config reads the
// environment and shared files but sends no request.
func NewBedrock(ctx context.Context, cfg BedrockConfig) (*Bedrock, error) {
	b := &Bedrock{
		client:         cfg.Client,
		region:         cfg.Region,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
	}
	if b.region == "" {
		b.region = DefaultBedrockRegion
	}
	if b.model == "" {
		b.model = DefaultBedrockModel
	}
	if b.embeddingModel == "" {
		b.embeddingModel = DefaultBedrockEmbeddingModel
	}
	if b.client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(b.region))
		if err != nil {
			return nil, fmt.Errorf("llm: load AWS config for Bedrock (region: %s): %w", b.region, err)
		}
		b.client = bedrockruntime.NewFromConfig(awsCfg)
	}
	return b, nil
}

// Generate invokes the model with a body for its family
func (b *Bedrock) Generate(ctx context.Context, messages []Message, opts CallOptions) (*Generation, error) {
	model := opts.Model
	if model == "" {
		model = b.model
	}
	family := bedrockFamily(model)
	body, err := bedrockRequest(family, messages, opts)
	if err != nil {
		return nil, err
	}
	out, err := b.invoke(ctx, model, body)
	if err != nil {
		return nil, err
	}
	gen, err := parseBedrockResponse(family, out)
	if err != nil {
		return nil, err
	}
	gen.Provider = ProviderBedrock
	gen.Model = model
	return gen, nil
}

// Embed calls a Titan embedding model once per text
func (b *Bedrock) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		out, err := b.invoke(ctx, b.embeddingModel, map[string]interface{}{"inputText": text})
		if err != nil {
			return nil, err
		}
		var resp struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(out, &resp); err != nil {
			return nil, fmt.Errorf("llm: decode Bedrock embedding: %w", err)
		}
		if len(resp.Embedding) == 0 {
			return nil, fmt.Errorf("llm: no embedding returned for input %d", i)
		}
		vectors = append(vectors, resp.Embedding)
	}
	return vectors, nil
}

func (b *Bedrock) invoke(ctx context.Context, model string, body interface{}) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encode Bedrock request: %w", err)
	}
	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        raw,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			return nil, &base.APIError{StatusCode: respErr.HTTPStatusCode(), Method: "InvokeModel", URL: model, Body: respErr.Error()}
		}
		return nil, fmt.Errorf("llm: bedrock %s: %w", model, err)
	}
	return out.Body, nil
}

var (
	bedrockProfilePrefixes = []string{"eu", "us", "apac", "global"}
	bedrockFamilies        = []string{"anthropic", "amazon", "meta", "mistral"}
)

// bedrockFamily returns the provider segment of a model ID such as
// anthropic.claude-3-haiku or eu.anthropic.claude-sonnet-4, empty when
// the family is unsupported.
func bedrockFamily(modelID string) string {
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}
	family := segments[0]
	for _, prefix := range bedrockProfilePrefixes {
		if family == prefix && len(segments) > 2 {
			family = segments[1]
			break
		}
	}
	for _, f := range bedrockFamilies {
		if f == family {
			return family
		}
	}
	return ""
}

func bedrockRequest(family string, messages []Message, opts CallOptions) (map[string]interface{}, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultBedrockMaxTokens
	}
	body := map[string]interface{}{}
	switch family {
	case "anthropic":
		var system []string
		turns := make([]map[string]string, 0, len(messages))
		for _, m := range messages {
			if m.Role == RoleSystem {
				system = append(system, m.Content)
				continue
			}
			turns = append(turns, map[string]string{"role": m.Role, "content": m.Content})
		}
		body["anthropic_version"] = "bedrock-2023-05-31"
		body["max_tokens"] = maxTokens
		body["messages"] = turns
		if len(system) > 0 {
			body["system"] = strings.Join(system, "\n\n")
		}
		if opts.Temperature != nil {
			body["temperature"] = *opts.Temperature
		}
		if len(opts.Stop) > 0 {
			body["stop_sequences"] = opts.Stop
		}
	case "amazon":
		gen := map[string]interface{}{"maxTokenCount": maxTokens}
		if opts.Temperature != nil {
			gen["temperature"] = *opts.Temperature
		}
		if len(opts.Stop) > 0 {
			gen["stopSequences"] = opts.Stop
		}
		body["inputText"] = Transcript(messages)
		body["textGenerationConfig"] = gen
	case "meta":
		body["prompt"] = Transcript(messages)
		body["max_gen_len"] = maxTokens
		if opts.Temperature != nil {
			body["temperature"] = *opts.Temperature
		}
	case "mistral":
		body["prompt"] = Transcript(messages)
		body["max_tokens"] = maxTokens
		if opts.Temperature != nil {
			body["temperature"] = *opts.Temperature
		}
		if len(opts.Stop) > 0 {
			body["stop"] = opts.Stop
		}
	default:
		return nil, fmt.Errorf("llm: unsupported Bedrock model family %q", family)
	}
	return body, nil
}

func parseBedrockResponse(family string, raw []byte) (*Generation, error) {
	gen := &Generation{}
	switch family {
	case "anthropic":
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			StopReason string `json:"stop_reason"`
			Usage      struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("llm: decode Bedrock response: %w", err)
		}
		if len(resp.Content) == 0 {
			return nil, ErrEmptyResponse
		}
		gen.Content = resp.Content[0].Text
		gen.FinishReason = resp.StopReason
		gen.Usage = Usage{PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens}
	case "amazon":
		var resp struct {
			InputTextTokenCount int `json:"inputTextTokenCount"`
			Results             []struct {
				OutputText       string `json:"outputText"`
				TokenCount       int    `json:"tokenCount"`
				CompletionReason string `json:"completionReason"`
			} `json:"results"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("llm: decode Bedrock response: %w", err)
		}
		if len(resp.Results) == 0 {
			return nil, ErrEmptyResponse
		}
		gen.Content = resp.Results[0].OutputText
		gen.FinishReason = resp.Results[0].CompletionReason
		gen.Usage = Usage{PromptTokens: resp.InputTextTokenCount, CompletionTokens: resp.Results[0].TokenCount}
	case "meta":
		var resp struct {
			Generation       string `json:"generation"`
			PromptTokenCount int    `json:"prompt_token_count"`
			GenTokenCount    int    `json:"generation_token_count"`
			StopReason       string `json:"stop_reason"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("llm: decode Bedrock response: %w", err)
		}
		gen.Content = resp.Generation
		gen.FinishReason = resp.StopReason
		gen.Usage = Usage{PromptTokens: resp.PromptTokenCount, CompletionTokens: resp.GenTokenCount}
	case "mistral":
		var resp struct {
			Outputs []struct {
				Text       string `json:"text"`
				StopReason string `json:"stop_reason"`
			} `json:"outputs"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("llm: decode Bedrock response: %w", err)
		}
		if len(resp.Outputs) == 0 {
			return nil, ErrEmptyResponse
		}
		// Mistral reports no token counts.
		gen.Content = resp.Outputs[0].Text
		gen.FinishReason = resp.Outputs[0].StopReason
	}
	gen.Usage.TotalTokens = gen.Usage.PromptTokens + gen.Usage.CompletionTokens
	return gen, nil
}

var (
	_ Model    = (*Bedrock)(nil)
	_ Embedder = (*Bedrock)(nil)
)
