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

package chains

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/platform/chains/agent"
	"relayhub/platform/chains/llm"
	"relayhub/platform/chains/prompt"
	"relayhub/platform/chains/retrieval"
	"relayhub/platform/common/usage"
	"relayhub/platform/connectors/action"
	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/registry"
	"relayhub/platform/connectors/sdk"
)

func sharedModel(fake *llm.FakeModel) BuilderOption {
	return WithModelFactory(func(LLMConfig) (llm.Model, error) { return fake, nil })
}

func TestLLMChain(t *testing.T) {
	ctx := context.Background()
	model := llm.NewFakeModel("Bonjour")
	c := NewLLMChain(model, prompt.Must("Translate {text} to {lang}"))
	assert.Equal(t, []string{"text", "lang"}, c.InputKeys())

	out, err := Call(ctx, c, map[string]interface{}{"text": "hello", "lang": "French"})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", out["text"])
	assert.Equal(t, "Translate hello to French", model.LastPrompt())

	_, err = Call(ctx, c, map[string]interface{}{"text": "hello"})
	var missing *MissingInputError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"lang"}, missing.Keys)
}

func TestRunSingleInput(t *testing.T) {
	c := NewLLMChain(llm.NewFakeModel("42"), prompt.Must("Answer {q}"))
	got, err := Run(context.Background(), c, "life")
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	_, err = Run(context.Background(), NewLLMChain(llm.NewFakeModel(), prompt.Must("{a}{b}")), "x")
	assert.Error(t, err)
}

func TestChatPromptChain(t *testing.T) {
	model := llm.NewFakeModel("ok")
	b := NewBuilder(sharedModel(model))
	c, err := b.Build(context.Background(), Config{
		ChainType: TypeLLM,
		LLM:       &LLMConfig{Provider: "fake"},
		Prompt: &PromptConfig{
			Messages: []MessageConfig{{Role: "system", Template: "You are {persona}."}, {Role: "user", Template: "{question}"}},
			Partials: map[string]interface{}{"persona": "terse"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"question"}, c.InputKeys())
	_, err = Call(context.Background(), c, map[string]interface{}{"question": "why?"})
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{llm.System("You are terse."), llm.User("why?")}, model.Calls()[0])
}

func TestConversationChainRemembers(t *testing.T) {
	ctx := context.Background()
	model := llm.NewFakeModel("Hi Ada!", "Your name is Ada.")
	b := NewBuilder(sharedModel(model))
	c, err := b.Build(ctx, Config{ChainType: TypeConversation, LLM: &LLMConfig{Provider: "fake"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"input", "history_id"}, c.InputKeys())

	out, err := Call(ctx, c, map[string]interface{}{"input": "I am Ada", "history_id": "h1"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada!", out["response"])

	out, err = Call(ctx, c, map[string]interface{}{"input": "What is my name?", "history_id": "h1"})
	require.NoError(t, err)
	assert.Equal(t, "Your name is Ada.", out["response"])
	p := model.LastPrompt()
	assert.Contains(t, p, "Current conversation:\nHuman: I am Ada\nAI: Hi Ada!\nHuman: What is my name?\nAI:")

	stored, err := b.Store().Load(ctx, "h1")
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	_, err = Call(ctx, c, map[string]interface{}{"input": "x"})
	var missing *MissingInputError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{HistoryIDKey}, missing.Keys)
}

func TestConversationHistoryIsPerTenant(t *testing.T) {
	model := llm.NewFakeModel("Hi Ada!", "Hi Bob!", "Your name is Ada.")
	b := NewBuilder(sharedModel(model))
	acme := sdk.WithTenantID(context.Background(), "acme")
	globex := sdk.WithTenantID(context.Background(), "globex")
	c, err := b.Build(acme, Config{ChainType: TypeConversation, LLM: &LLMConfig{Provider: "fake"}})
	require.NoError(t, err)

	_, err = Call(acme, c, map[string]interface{}{"input": "I am Ada", "history_id": "shared"})
	require.NoError(t, err)
	_, err = Call(globex, c, map[string]interface{}{"input": "I am Bob", "history_id": "shared"})
	require.NoError(t, err)
	assert.NotContains(t, model.LastPrompt(), "Ada", "another tenant's history must not be loaded")

	_, err = Call(acme, c, map[string]interface{}{"input": "Who am I?", "history_id": "shared"})
	require.NoError(t, err)
	assert.Contains(t, model.LastPrompt(), "Human: I am Ada\nAI: Hi Ada!\nHuman: Who am I?")
	assert.NotContains(t, model.LastPrompt(), "Bob")

	stored, err := b.Store().Load(context.Background(), HistoryKey(globex, "shared"))
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Equal(t, "acme/shared", HistoryKey(acme, "shared"))
	assert.Equal(t, "shared", HistoryKey(context.Background(), "shared"))
}

func TestConversationWindowMemory(t *testing.T) {
	ctx := context.Background()
	model := llm.NewFakeModel("a1", "a2", "a3")
	b := NewBuilder(sharedModel(model))
	c, err := b.Build(ctx, Config{
		ChainType: TypeConversation,
		LLM:       &LLMConfig{Provider: "fake"},
		Memory:    &MemoryConfig{Type: MemoryWindow, K: 1},
	})
	require.NoError(t, err)
	for _, q := range []string{"q1", "q2", "q3"} {
		_, err := Call(ctx, c, map[string]interface{}{"input": q, "history_id": "w"})
		require.NoError(t, err)
	}
	p := model.LastPrompt()
	assert.Contains(t, p, "Human: q2\nAI: a2\nHuman: q3")
	assert.NotContains(t, p, "q1")
}

func TestSequentialChain(t *testing.T) {
	ctx := context.Background()
	model := llm.NewFakeModel("Go Rocks", "Fast and simple")
	b := NewBuilder(sharedModel(model))
	c, err := b.Build(ctx, Config{
		ChainType: TypeSequential,
		Chains: []Config{
			{ChainType: TypeLLM, LLM: &LLMConfig{Provider: "fake"}, Prompt: &PromptConfig{Template: "Write a title about {topic}"}, OutputKey: "title"},
			{ChainType: TypeLLM, LLM: &LLMConfig{Provider: "fake"}, Prompt: &PromptConfig{Template: "Write a tagline for {title}"}, OutputKey: "tagline"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"topic"}, c.InputKeys())
	assert.Equal(t, []string{"tagline"}, c.OutputKeys())

	out, err := Call(ctx, c, map[string]interface{}{"topic": "go"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"tagline": "Fast and simple"}, out)
	assert.Equal(t, "Write a tagline for Go Rocks", model.LastPrompt())
}

func TestSequentialChainValidation(t *testing.T) {
	first := NewLLMChain(llm.NewFakeModel(), prompt.Must("{a}"))
	first.OutputKey = "b"
	second := NewLLMChain(llm.NewFakeModel(), prompt.Must("{b} {c}"))
	second.OutputKey = "d"

	_, err := NewSequentialChain([]Chain{first, second}, []string{"a"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	seq, err := NewSequentialChain([]Chain{first, second}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, seq.InputKeys())

	clash := NewLLMChain(llm.NewFakeModel(), prompt.Must("{a}"))
	clash.OutputKey = "a"
	_, err = NewSequentialChain([]Chain{clash}, []string{"a"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSequentialChain([]Chain{first}, nil, []string{"zzz"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRetrievalQA(t *testing.T) {
	ctx := context.Background()
	model := llm.NewFakeModel(" Five business days. ")
	b := NewBuilder(sharedModel(model))
	c, err := b.Build(ctx, Config{
		ChainType:     TypeRetrievalQA,
		LLM:           &LLMConfig{Provider: "fake"},
		ReturnSources: true,
		Retriever: &RetrieverConfig{
			K: 1,
			Documents: []retrieval.Document{
				{PageContent: "Refunds take five business days", Metadata: map[string]interface{}{"source": "refunds.md"}},
				{PageContent: "Shipping is free over fifty dollars", Metadata: map[string]interface{}{"source": "shipping.md"}},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"query"}, c.InputKeys())

	out, err := Call(ctx, c, map[string]interface{}{"query": "how long do refunds take"})
	require.NoError(t, err)
	assert.Equal(t, "Five business days.", out["result"])
	docs := out[SourceDocumentsKey].([]retrieval.Document)
	require.Len(t, docs, 1)
	assert.Equal(t, "refunds.md", docs[0].Metadata["source"])

	p := model.LastPrompt()
	assert.Contains(t, p, "Refunds take five business days\n\nQuestion: how long do refunds take")
	assert.NotContains(t, p, "Shipping")
}

func crmRunner(t *testing.T) *action.Runner {
	t.Helper()
	reg := registry.New()
	reg.RegisterFactory("crm", func() base.Connector {
		m := sdk.NewMockConnector("crm", "crm")
		m.SetActions(base.Read("find_lead", "Find a lead by email", "email"))
		m.SetOnQuery(func(_ context.Context, q *base.Query) (*base.QueryResult, error) {
			return &base.QueryResult{
				Rows:     []map[string]interface{}{{"email": q.Parameters["email"], "status": "open"}},
				RowCount: 1,
			}, nil
		})
		return m
	})
	t.Cleanup(func() { reg.Close(context.Background()) })
	return action.NewRunner(reg)
}

func TestAgentChainWithConnectorTool(t *testing.T) {
	ctx := context.Background()
	model := llm.NewFakeModel(
		" I should look the lead up.\nAction: find_lead\nAction Input: a@example.com",
		" I now know the final answer\nFinal Answer: The lead is open.",
	)
	b := NewBuilder(sharedModel(model), WithActionRunner(crmRunner(t)))
	c, err := b.Build(ctx, Config{
		ChainType:   TypeAgent,
		LLM:         &LLMConfig{Provider: "fake"},
		ReturnSteps: true,
		Tools: []ToolConfig{{
			Type:        ToolConnector,
			Name:        "find_lead",
			Description: "Finds a CRM lead. Input is an email address.",
			Connector:   "crm",
			Action:      "find_lead",
			InputKey:    "email",
			Credentials: map[string]string{"api_key": "k"},
		}},
	})
	require.NoError(t, err)

	out, err := Call(ctx, c, map[string]interface{}{"input": "Is a@example.com an open lead?"})
	require.NoError(t, err)
	assert.Equal(t, "The lead is open.", out["output"])
	steps := out[IntermediateStepsKey].([]agent.Step)
	require.Len(t, steps, 1)
	assert.Contains(t, steps[0].Observation, `"status":"open"`)
	assert.Contains(t, model.Calls()[0][0].Content, "find_lead: Finds a CRM lead.")
}

func TestBuilderErrors(t *testing.T) {
	fake := &LLMConfig{Provider: "fake"}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty type", Config{}},
		{"unknown type", Config{ChainType: "map_reduce", LLM: fake}},
		{"missing llm", Config{ChainType: TypeLLM, Prompt: &PromptConfig{Template: "x"}}},
		{"missing prompt", Config{ChainType: TypeLLM, LLM: fake}},
		{"bad prompt", Config{ChainType: TypeLLM, LLM: fake, Prompt: &PromptConfig{Template: "{oops"}}},
		{"unknown provider", Config{ChainType: TypeLLM, LLM: &LLMConfig{Provider: "nope"}, Prompt: &PromptConfig{Template: "x"}}},
		{"openai without key", Config{ChainType: TypeLLM, LLM: &LLMConfig{}, Prompt: &PromptConfig{Template: "x"}}},
		{"unknown memory", Config{ChainType: TypeConversation, LLM: fake, Memory: &MemoryConfig{Type: "vector"}}},
		{"empty sequence", Config{ChainType: TypeSequential}},
		{"missing retriever", Config{ChainType: TypeRetrievalQA, LLM: fake}},
		{"connector without runner", Config{ChainType: TypeAgent, LLM: fake, Tools: []ToolConfig{{Type: ToolConnector, Connector: "crm", Action: "x"}}}},
		{"unknown tool", Config{ChainType: TypeAgent, LLM: fake, Tools: []ToolConfig{{Type: "shell"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder().Build(context.Background(), tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestBuilderLLMDefaults(t *testing.T) {
	var seen LLMConfig
	b := NewBuilder(
		WithLLMDefaults(LLMConfig{Provider: "openai", APIKey: "sk-default", Model: "gpt-4o"}),
		WithModelFactory(func(cfg LLMConfig) (llm.Model, error) {
			seen = cfg
			return llm.NewFakeModel("x"), nil
		}),
	)
	_, err := b.Build(context.Background(), Config{ChainType: TypeLLM, LLM: &LLMConfig{}, Prompt: &PromptConfig{Template: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "openai", seen.Provider)
	assert.Equal(t, "sk-default", seen.APIKey)
	assert.Equal(t, "gpt-4o", seen.Model)
}

func TestBuilderKeepsDefaultKeyOnDefaultEndpoint(t *testing.T) {
	var seen []LLMConfig
	b := NewBuilder(
		WithLLMDefaults(LLMConfig{Provider: "openai", APIKey: "sk-server", BaseURL: "https://llm.internal/v1"}),
		WithModelFactory(func(cfg LLMConfig) (llm.Model, error) {
			seen = append(seen, cfg)
			return llm.NewFakeModel("x"), nil
		}),
	)
	build := func(lc *LLMConfig) error {
		_, err := b.Build(context.Background(), Config{ChainType: TypeLLM, LLM: lc, Prompt: &PromptConfig{Template: "hi"}})
		return err
	}

	err := build(&LLMConfig{BaseURL: "http://collector.example.net/v1"})
	require.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "requires its own api_key")
	assert.Empty(t, seen, "no model is built for a foreign endpoint without a key")

	require.NoError(t, build(&LLMConfig{BaseURL: "http://collector.example.net/v1", APIKey: "sk-caller"}))
	require.NoError(t, build(&LLMConfig{BaseURL: "https://llm.internal/v1"}))
	require.Len(t, seen, 2)
	assert.Equal(t, "sk-caller", seen[0].APIKey)
	assert.Equal(t, "sk-server", seen[1].APIKey)

	_, err = b.Build(context.Background(), Config{
		ChainType: TypeRetrievalQA,
		LLM:       &LLMConfig{Provider: "fake"},
		Retriever: &RetrieverConfig{Embeddings: &LLMConfig{BaseURL: "http://collector.example.net/v1"}},
	})
	require.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "embeddings")
}

func TestBuilderBedrockDefaults(t *testing.T) {
	var seen []LLMConfig
	b := NewBuilder(
		WithLLMDefaults(LLMConfig{APIKey: "sk-server", Model: "gpt-4o"}),
		WithDefaultProvider(llm.ProviderBedrock),
		WithBedrockDefaults(LLMConfig{Region: "eu-west-1", Model: "eu.anthropic.claude-sonnet-4-5-20250929-v1:0"}),
		WithModelFactory(func(cfg LLMConfig) (llm.Model, error) {
			seen = append(seen, cfg)
			return llm.NewFakeModel("x"), nil
		}),
	)
	build := func(lc *LLMConfig) {
		_, err := b.Build(context.Background(), Config{ChainType: TypeLLM, LLM: lc, Prompt: &PromptConfig{Template: "hi"}})
		require.NoError(t, err)
	}

	build(&LLMConfig{})
	build(&LLMConfig{Provider: "bedrock", Region: "us-west-2", Model: "meta.llama3-70b-instruct-v1:0"})
	build(&LLMConfig{Provider: "openai"})

	require.Len(t, seen, 3)
	assert.Equal(t, LLMConfig{Provider: "bedrock", Region: "eu-west-1", Model: "eu.anthropic.claude-sonnet-4-5-20250929-v1:0"}, seen[0],
		"bedrock configs never pick up the OpenAI key")
	assert.Equal(t, "us-west-2", seen[1].Region)
	assert.Equal(t, "meta.llama3-70b-instruct-v1:0", seen[1].Model)
	assert.Equal(t, "sk-server", seen[2].APIKey)
	assert.Equal(t, "gpt-4o", seen[2].Model)
}

type eventLog struct {
	mu     sync.Mutex
	events []usage.Event
}

func (l *eventLog) Report(e usage.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []usage.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]usage.Event(nil), l.events...)
}

func TestServiceRunReportsUsage(t *testing.T) {
	events := &eventLog{}
	pricing := usage.NewPricing()
	pricing.Set("fake", "fake-model", usage.ModelPricing{PromptPer1K: 1000, CompletionPer1K: 2000})
	svc := NewService(NewBuilder(), WithRecorder(events), WithPricing(pricing))

	resp, err := svc.Run(context.Background(), &RunRequest{
		Config: Config{
			ChainType: TypeLLM,
			LLM:       &LLMConfig{Provider: "fake", Responses: []string{"hello there"}},
			Prompt:    &PromptConfig{Template: "Say {word}"},
		},
		Inputs:   map[string]interface{}{"word": "hi"},
		TenantID: "acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Outputs["text"])
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, llm.Usage{PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4}, resp.Usage)
	assert.Equal(t, int64(6), resp.CostMicros)
	assert.Equal(t, "$0.000006", resp.Cost)
	require.Len(t, resp.Models, 1)
	assert.Equal(t, 1, resp.Models[0].Calls)

	got := events.all()
	require.Len(t, got, 2)
	assert.Equal(t, usage.TypeChainRun, got[0].Type)
	assert.Equal(t, "acme", got[0].TenantID)
	assert.Equal(t, resp.RequestID, got[0].RequestID)
	assert.Equal(t, 4, got[0].TotalTokens)
	assert.True(t, got[0].Success)
	assert.Equal(t, usage.TypeLLMRequest, got[1].Type)
	assert.Equal(t, "fake", got[1].Provider)
	assert.Equal(t, "fake-model", got[1].Model)
	assert.Equal(t, int64(6), got[1].CostMicros)
}

func TestServiceRunFailureIsReported(t *testing.T) {
	events := &eventLog{}
	svc := NewService(NewBuilder(), WithRecorder(events))
	ctx := sdk.WithRequestID(context.Background(), "req-7")
	_, err := svc.Run(ctx, &RunRequest{
		Config: Config{ChainType: TypeLLM, LLM: &LLMConfig{Provider: "fake"}, Prompt: &PromptConfig{Template: "{q}"}},
	})
	var missing *MissingInputError
	require.True(t, errors.As(err, &missing))

	got := events.all()
	require.Len(t, got, 1)
	assert.False(t, got[0].Success)
	assert.Equal(t, "req-7", got[0].RequestID)
	assert.Contains(t, got[0].Error, "q")
}

func TestServiceBuildErrorIsNotReported(t *testing.T) {
	events := &eventLog{}
	svc := NewService(NewBuilder(), WithRecorder(events))
	_, err := svc.Run(context.Background(), &RunRequest{Config: Config{ChainType: "nope"}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Empty(t, events.all())
}
