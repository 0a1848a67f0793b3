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
	"net/http"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/platform/connectors/base"
)

// fakeRuntime answers InvokeModel from a canned body and records requests
type fakeRuntime struct {
	reply  string
	err    error
	models []string
	bodies []map[string]interface{}
}

func (f *fakeRuntime) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.models = append(f.models, *in.ModelId)
	var body map[string]interface{}
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return nil, err
	}
	f.bodies = append(f.bodies, body)
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.reply)}, nil
}

func TestBedrockGenerateAnthropic(t *testing.T) {
	rt := &fakeRuntime{reply: `{"content":[{"type":"text","text":"Paris"}],"stop_reason":"end_turn","usage":{"input_tokens":12,"output_tokens":3}}`}
	m, err := NewBedrock(context.Background(), BedrockConfig{Client: rt})
	require.NoError(t, err)

	temp := float32(0.2)
	gen, err := m.Generate(context.Background(), []Message{
		System("Answer in one word."),
		User("Capital of France?"),
	}, CallOptions{Temperature: &temp, Stop: []string{"\n"}})
	require.NoError(t, err)

	assert.Equal(t, "Paris", gen.Content)
	assert.Equal(t, ProviderBedrock, gen.Provider)
	assert.Equal(t, DefaultBedrockModel, gen.Model)
	assert.Equal(t, "end_turn", gen.FinishReason)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, gen.Usage)

	require.Len(t, rt.bodies, 1)
	body := rt.bodies[0]
	assert.Equal(t, DefaultBedrockModel, rt.models[0])
	assert.Equal(t, "bedrock-2023-05-31", body["anthropic_version"])
	assert.Equal(t, "Answer in one word.", body["system"])
	assert.EqualValues(t, defaultBedrockMaxTokens, body["max_tokens"])
	assert.InDelta(t, 0.2, body["temperature"], 0.001)
	assert.Equal(t, []interface{}{map[string]interface{}{"role": "user", "content": "Capital of France?"}}, body["messages"])
}

func TestBedrockModelFamilies(t *testing.T) {
	tests := []struct {
		model   string
		reply   string
		content string
		field   string
	}{
		{"amazon.titan-text-express-v1", `{"inputTextTokenCount":4,"results":[{"outputText":"hi","tokenCount":1}]}`, "hi", "inputText"},
		{"meta.llama3-70b-instruct-v1:0", `{"generation":"hello","prompt_token_count":4,"generation_token_count":2}`, "hello", "prompt"},
		{"mistral.mistral-large-2402-v1:0", `{"outputs":[{"text":"bonjour"}]}`, "bonjour", "prompt"},
		{"eu.anthropic.claude-sonnet-4-5-20250929-v1:0", `{"content":[{"text":"hey"}]}`, "hey", "messages"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			rt := &fakeRuntime{reply: tt.reply}
			m, err := NewBedrock(context.Background(), BedrockConfig{Client: rt, Model: tt.model})
			require.NoError(t, err)
			gen, err := m.Generate(context.Background(), []Message{User("hi")}, CallOptions{MaxTokens: 50})
			require.NoError(t, err)
			assert.Equal(t, tt.content, gen.Content)
			assert.Equal(t, tt.model, gen.Model)
			assert.Contains(t, rt.bodies[0], tt.field)
		})
	}
}

func TestBedrockRejectsUnknownFamily(t *testing.T) {
	rt := &fakeRuntime{}
	m, err := NewBedrock(context.Background(), BedrockConfig{Client: rt, Model: "cohere.command-r-v1:0"})
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []Message{User("hi")}, CallOptions{})
	assert.ErrorContains(t, err, "unsupported Bedrock model family")
	assert.Empty(t, rt.models, "nothing is sent for an unsupported family")

	assert.Equal(t, "", bedrockFamily("titan"))
	assert.Equal(t, "anthropic", bedrockFamily("us.anthropic.claude-3-haiku-20240307-v1:0"))
}

func TestBedrockAPIError(t *testing.T) {
	rt := &fakeRuntime{err: &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusTooManyRequests}},
			Err:      errors.New("ThrottlingException: slow down"),
		},
	}}
	m, err := NewBedrock(context.Background(), BedrockConfig{Client: rt})
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []Message{User("hi")}, CallOptions{})
	require.Error(t, err)
	assert.True(t, base.IsStatus(err, http.StatusTooManyRequests), "unexpected error: %v", err)
	assert.Contains(t, err.Error(), "slow down")
}

func TestBedrockEmbed(t *testing.T) {
	rt := &fakeRuntime{reply: `{"embedding":[0.1,0.2,0.3],"inputTextTokenCount":2}`}
	m, err := NewBedrock(context.Background(), BedrockConfig{Client: rt})
	require.NoError(t, err)
	vectors, err := m.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])
	assert.Equal(t, []string{DefaultBedrockEmbeddingModel, DefaultBedrockEmbeddingModel}, rt.models)
	assert.Equal(t, "b", rt.bodies[1]["inputText"])
}
