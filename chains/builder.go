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
	"fmt"

	"go.uber.org/zap"

	"relayhub/platform/chains/agent"
	"relayhub/platform/chains/llm"
	"relayhub/platform/chains/memory"
	"relayhub/platform/chains/prompt"
	"relayhub/platform/chains/retrieval"
	"relayhub/platform/chains/tools"
	"relayhub/platform/shared/logger"
)

// Chain types
const (
	TypeLLM          = "llm"
	TypeConversation = "conversation"
	TypeSequential   = "sequential"
	TypeRetrievalQA  = "retrieval_qa"
	TypeAgent        = "agent"
)

// Memory types
const (
	MemoryBuffer  = "buffer"
	MemoryWindow  = "window"
	MemorySummary = "summary"
)

// Tool types
const (
	ToolConnector = "connector"
	ToolRetriever = "retriever"
)

// Config describes a chain. Nested sections are only read by the chain
// types that use them.
type Config struct {
	ChainType     string           `json:"chain_type" yaml:"chain_type"`
	LLM           *LLMConfig       `json:"llm,omitempty" yaml:"llm"`
	Prompt        *PromptConfig    `json:"prompt,omitempty" yaml:"prompt"`
	Memory        *MemoryConfig    `json:"memory,omitempty" yaml:"memory"`
	Retriever     *RetrieverConfig `json:"retriever,omitempty" yaml:"retriever"`
	Tools         []ToolConfig     `json:"tools,omitempty" yaml:"tools"`
	Chains        []Config         `json:"chains,omitempty" yaml:"chains"`
	InputKeys     []string         `json:"input_variables,omitempty" yaml:"input_variables"`
	OutputKeys    []string         `json:"output_variables,omitempty" yaml:"output_variables"`
	InputKey      string           `json:"input_key,omitempty" yaml:"input_key"`
	OutputKey     string           `json:"output_key,omitempty" yaml:"output_key"`
	MaxIterations int              `json:"max_iterations,omitempty" yaml:"max_iterations"`
	ReturnSources bool             `json:"return_source_documents,omitempty" yaml:"return_source_documents"`
	ReturnSteps   bool             `json:"return_intermediate_steps,omitempty" yaml:"return_intermediate_steps"`
}

// LLMConfig selects and tunes a model. Provider "fake" replays Responses.
type LLMConfig struct {
	Provider       string   `json:"provider,omitempty" yaml:"provider"`
	Model          string   `json:"model,omitempty" yaml:"model"`
	EmbeddingModel string   `json:"embedding_model,omitempty" yaml:"embedding_model"`
	Temperature    *float32 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens      int      `json:"max_tokens,omitempty" yaml:"max_tokens"`
	APIKey         string   `json:"api_key,omitempty" yaml:"api_key"`
	BaseURL        string   `json:"base_url,omitempty" yaml:"base_url"`
	Region         string   `json:"region,omitempty" yaml:"region"`
	Responses      []string `json:"responses,omitempty" yaml:"responses"`
}

// PromptConfig is a text template or a list of chat messages
type PromptConfig struct {
	Template string                 `json:"template,omitempty" yaml:"template"`
	Messages []MessageConfig        `json:"messages,omitempty" yaml:"messages"`
	Partials map[string]interface{} `json:"partial_variables,omitempty" yaml:"partial_variables"`
}

// MessageConfig is one chat prompt message
type MessageConfig struct {
	Role     string `json:"role" yaml:"role"`
	Template string `json:"template" yaml:"template"`
}

// MemoryConfig selects a memory strategy
type MemoryConfig struct {
	Type        string `json:"type,omitempty" yaml:"type"`
	K           int    `json:"k,omitempty" yaml:"k"`
	MaxMessages int    `json:"max_messages,omitempty" yaml:"max_messages"`
	MemoryKey   string `json:"memory_key,omitempty" yaml:"memory_key"`
	HumanPrefix string `json:"human_prefix,omitempty" yaml:"human_prefix"`
	AIPrefix    string `json:"ai_prefix,omitempty" yaml:"ai_prefix"`
}

// RetrieverConfig indexes inline documents into an in-memory vector store
type RetrieverConfig struct {
	Documents      []retrieval.Document `json:"documents,omitempty" yaml:"documents"`
	ChunkSize      int                  `json:"chunk_size,omitempty" yaml:"chunk_size"`
	ChunkOverlap   int                  `json:"chunk_overlap,omitempty" yaml:"chunk_overlap"`
	K              int                  `json:"k,omitempty" yaml:"k"`
	ScoreThreshold float32              `json:"score_threshold,omitempty" yaml:"score_threshold"`
	Embeddings     *LLMConfig           `json:"embeddings,omitempty" yaml:"embeddings"`
}

// ToolConfig describes an agent tool
type ToolConfig struct {
	Type          string                 `json:"type" yaml:"type"`
	Name          string                 `json:"name,omitempty" yaml:"name"`
	Description   string                 `json:"description,omitempty" yaml:"description"`
	Connector     string                 `json:"connector,omitempty" yaml:"connector"`
	Profile       string                 `json:"profile,omitempty" yaml:"profile"`
	Action        string                 `json:"action,omitempty" yaml:"action"`
	Params        map[string]interface{} `json:"params,omitempty" yaml:"params"`
	Credentials   map[string]string      `json:"credentials,omitempty" yaml:"credentials"`
	CredentialRef string                 `json:"credential_ref,omitempty" yaml:"credential_ref"`
	InputKey      string                 `json:"input_key,omitempty" yaml:"input_key"`
	Retriever     *RetrieverConfig       `json:"retriever,omitempty" yaml:"retriever"`
}

// ModelFactory builds the model for an LLM section
type ModelFactory func(cfg LLMConfig) (llm.Model, error)

// EmbedderFactory builds the embedder for a retriever
type EmbedderFactory func(cfg LLMConfig) (llm.Embedder, error)

// Builder turns Configs into Chains
type Builder struct {
	store     memory.Store
	runner    tools.ActionRunner
	models    ModelFactory
	embedders EmbedderFactory
	defaults  LLMConfig
	bedrock   LLMConfig
	provider  string
	log       *zap.SugaredLogger
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithStore sets the history store used by conversation memory
func WithStore(s memory.Store) BuilderOption { return func(b *Builder) { b.store = s } }

// WithActionRunner enables connector tools
func WithActionRunner(r tools.ActionRunner) BuilderOption { return func(b *Builder) { b.runner = r } }

// WithModelFactory replaces the provider switch
func WithModelFactory(f ModelFactory) BuilderOption { return func(b *Builder) { b.models = f } }

// WithEmbedderFactory replaces the embedding provider switch
func WithEmbedderFactory(f EmbedderFactory) BuilderOption {
	return func(b *Builder) { b.embedders = f }
}

// WithLLMDefaults fills unset LLM fields, typically the API key
func WithLLMDefaults(d LLMConfig) BuilderOption { return func(b *Builder) { b.defaults = d } }

// WithDefaultProvider names the provider of configs that set none. It
// takes precedence over the provider of WithLLMDefaults.
func WithDefaultProvider(p string) BuilderOption { return func(b *Builder) { b.provider = p } }

// WithBedrockDefaults fills region and models of configs whose provider
// is bedrock
func WithBedrockDefaults(d LLMConfig) BuilderOption { return func(b *Builder) { b.bedrock = d } }

// WithBuilderLogger sets the logger handed to agents
func WithBuilderLogger(l *zap.SugaredLogger) BuilderOption { return func(b *Builder) { b.log = l } }

// NewBuilder creates a builder. Histories default to an in-memory store.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{log: logger.New("chains").Sugared("builder")}
	for _, opt := range opts {
		opt(b)
	}
	if b.store == nil {
		b.store = memory.NewInMemoryStore()
	}
	if b.models == nil {
		b.models = DefaultModel
	}
	if b.embedders == nil {
		b.embedders = DefaultEmbedder
	}
	return b
}

// Store returns the history store
func (b *Builder) Store() memory.Store { return b.store }

// Build constructs the chain described by cfg
func (b *Builder) Build(ctx context.Context, cfg Config) (Chain, error) {
	return b.BuildWithTracker(ctx, cfg, nil)
}

// BuildWithTracker is Build with every model wrapped by tracker
func (b *Builder) BuildWithTracker(ctx context.Context, cfg Config, tracker *llm.Tracker) (Chain, error) {
	return b.build(ctx, cfg, tracker, "")
}

func (b *Builder) build(ctx context.Context, cfg Config, tracker *llm.Tracker, path string) (Chain, error) {
	if path == "" {
		path = cfg.ChainType
	}
	switch cfg.ChainType {
	case TypeLLM:
		lc, err := b.llmChain(cfg, tracker, nil, path)
		if err != nil {
			return nil, err
		}
		return lc, nil

	case TypeConversation:
		lc, err := b.llmChain(cfg, tracker, DefaultConversationPrompt, path)
		if err != nil {
			return nil, err
		}
		mem, err := b.memory(cfg.Memory, lc.Model, path)
		if err != nil {
			return nil, err
		}
		cc := NewConversationChain(lc, mem)
		if cfg.InputKey != "" {
			cc.InputKey = cfg.InputKey
		}
		if cfg.OutputKey != "" {
			cc.OutputKey = cfg.OutputKey
		}
		return cc, nil

	case TypeSequential:
		if len(cfg.Chains) == 0 {
			return nil, fmt.Errorf("%w: %s: chains is required", ErrInvalidConfig, path)
		}
		children := make([]Chain, 0, len(cfg.Chains))
		for i, child := range cfg.Chains {
			c, err := b.build(ctx, child, tracker, fmt.Sprintf("%s.chains[%d]", path, i))
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		seq, err := NewSequentialChain(children, cfg.InputKeys, cfg.OutputKeys)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return seq, nil

	case TypeRetrievalQA:
		lc, err := b.llmChain(cfg, tracker, DefaultQAPrompt, path)
		if err != nil {
			return nil, err
		}
		r, err := b.retriever(ctx, cfg.Retriever, cfg.LLM, path+".retriever")
		if err != nil {
			return nil, err
		}
		qa := NewRetrievalQA(lc, r)
		qa.ReturnSources = cfg.ReturnSources
		if cfg.InputKey != "" {
			qa.InputKey = cfg.InputKey
		}
		if cfg.OutputKey != "" {
			qa.OutputKey = cfg.OutputKey
		}
		return qa, nil

	case TypeAgent:
		model, opts, err := b.model(cfg.LLM, tracker, path)
		if err != nil {
			return nil, err
		}
		ts, err := b.tools(ctx, cfg, path)
		if err != nil {
			return nil, err
		}
		ex := agent.NewExecutor(model, ts)
		ex.Options = opts
		ex.Log = b.log
		if cfg.MaxIterations > 0 {
			ex.MaxIterations = cfg.MaxIterations
		}
		if cfg.Prompt != nil && cfg.Prompt.Template != "" {
			if ex.Prompt, err = b.template(cfg.Prompt, path); err != nil {
				return nil, err
			}
		}
		ac := NewAgentChain(ex)
		ac.ReturnSteps = cfg.ReturnSteps
		if cfg.InputKey != "" {
			ac.InputKey = cfg.InputKey
		}
		if cfg.OutputKey != "" {
			ac.OutputKey = cfg.OutputKey
		}
		return ac, nil

	case "":
		return nil, fmt.Errorf("%w: %s: chain_type is required", ErrInvalidConfig, path)
	default:
		return nil, fmt.Errorf("%w: unknown chain_type %q", ErrInvalidConfig, cfg.ChainType)
	}
}

func (b *Builder) llmChain(cfg Config, tracker *llm.Tracker, fallback *prompt.Template, path string) (*LLMChain, error) {
	model, opts, err := b.model(cfg.LLM, tracker, path)
	if err != nil {
		return nil, err
	}
	lc := &LLMChain{Model: model, Options: opts, OutputKey: cfg.OutputKey}
	switch {
	case cfg.Prompt != nil && len(cfg.Prompt.Messages) > 0:
		pairs := make([][2]string, len(cfg.Prompt.Messages))
		for i, m := range cfg.Prompt.Messages {
			pairs[i] = [2]string{m.Role, m.Template}
		}
		ct, err := prompt.NewChatTemplate(pairs...)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.prompt: %v", ErrInvalidConfig, path, err)
		}
		if len(cfg.Prompt.Partials) > 0 {
			ct = ct.Partial(cfg.Prompt.Partials)
		}
		lc.Chat = ct
	case cfg.Prompt != nil && cfg.Prompt.Template != "":
		if lc.Prompt, err = b.template(cfg.Prompt, path); err != nil {
			return nil, err
		}
	case fallback != nil:
		lc.Prompt = fallback
	default:
		return nil, fmt.Errorf("%w: %s: prompt is required", ErrInvalidConfig, path)
	}
	return lc, nil
}

func (b *Builder) template(pc *PromptConfig, path string) (*prompt.Template, error) {
	t, err := prompt.New(pc.Template)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.prompt: %v", ErrInvalidConfig, path, err)
	}
	if len(pc.Partials) > 0 {
		t = t.Partial(pc.Partials)
	}
	return t, nil
}

func (b *Builder) model(cfg *LLMConfig, tracker *llm.Tracker, path string) (llm.Model, llm.CallOptions, error) {
	if cfg == nil {
		return nil, llm.CallOptions{}, fmt.Errorf("%w: %s: llm is required", ErrInvalidConfig, path)
	}
	merged, err := b.withDefaults(*cfg)
	if err != nil {
		return nil, llm.CallOptions{}, fmt.Errorf("%w: %s.llm: %v", ErrInvalidConfig, path, err)
	}
	m, err := b.models(merged)
	if err != nil {
		return nil, llm.CallOptions{}, fmt.Errorf("%w: %s.llm: %v", ErrInvalidConfig, path, err)
	}
	if tracker != nil {
		m = tracker.Wrap(m, merged.Provider, merged.Model)
	}
	return m, llm.CallOptions{Model: merged.Model, Temperature: merged.Temperature, MaxTokens: merged.MaxTokens}, nil
}

// withDefaults fills unset LLM fields from the builder defaults. The
// default API key is only sent to the default endpoint: a config that
// names its own base_url must carry its own api_key.
func (b *Builder) withDefaults(cfg LLMConfig) (LLMConfig, error) {
	if cfg.Provider == "" {
		cfg.Provider = b.provider
	}
	if cfg.Provider == "" {
		cfg.Provider = b.defaults.Provider
	}
	if cfg.Provider == "" {
		cfg.Provider = llm.ProviderOpenAI
	}
	if cfg.Provider == llm.ProviderBedrock {
		if cfg.Region == "" {
			cfg.Region = b.bedrock.Region
		}
		if cfg.Model == "" {
			cfg.Model = b.bedrock.Model
		}
		if cfg.EmbeddingModel == "" {
			cfg.EmbeddingModel = b.bedrock.EmbeddingModel
		}
		return cfg, nil
	}
	if cfg.Provider == b.defaults.Provider || b.defaults.Provider == "" {
		ownEndpoint := cfg.BaseURL != "" && cfg.BaseURL != b.defaults.BaseURL
		if cfg.APIKey == "" && !ownEndpoint {
			cfg.APIKey = b.defaults.APIKey
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = b.defaults.BaseURL
		}
		if cfg.Model == "" {
			cfg.Model = b.defaults.Model
		}
		if cfg.EmbeddingModel == "" {
			cfg.EmbeddingModel = b.defaults.EmbeddingModel
		}
	}
	if cfg.Provider == llm.ProviderOpenAI && cfg.APIKey == "" && cfg.BaseURL != "" && cfg.BaseURL != b.defaults.BaseURL {
		return cfg, fmt.Errorf("base_url %s requires its own api_key", cfg.BaseURL)
	}
	return cfg, nil
}

func (b *Builder) memory(mc *MemoryConfig, model llm.Model, path string) (memory.Memory, error) {
	if mc == nil {
		mc = &MemoryConfig{Type: MemoryBuffer}
	}
	var (
		mem memory.Memory
		buf *memory.Buffer
	)
	switch mc.Type {
	case "", MemoryBuffer:
		buf = memory.NewBuffer(b.store)
		mem = buf
	case MemoryWindow:
		w := memory.NewWindow(b.store, mc.K)
		buf, mem = w.Buffer, w
	case MemorySummary:
		s := memory.NewSummary(b.store, model, mc.MaxMessages)
		buf, mem = s.Buffer, s
	default:
		return nil, fmt.Errorf("%w: %s.memory: unknown type %q", ErrInvalidConfig, path, mc.Type)
	}
	if mc.MemoryKey != "" {
		buf.Key = mc.MemoryKey
	}
	if mc.HumanPrefix != "" {
		buf.HumanPrefix = mc.HumanPrefix
	}
	if mc.AIPrefix != "" {
		buf.AIPrefix = mc.AIPrefix
	}
	return mem, nil
}

func (b *Builder) retriever(ctx context.Context, rc *RetrieverConfig, chainLLM *LLMConfig, path string) (*retrieval.Retriever, error) {
	if rc == nil {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidConfig, path)
	}
	ec := rc.Embeddings
	if ec == nil {
		ec = chainLLM
	}
	if ec == nil {
		ec = &LLMConfig{}
	}
	merged, err := b.withDefaults(*ec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.embeddings: %v", ErrInvalidConfig, path, err)
	}
	embedder, err := b.embedders(merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.embeddings: %v", ErrInvalidConfig, path, err)
	}
	splitter, err := retrieval.NewRecursiveSplitter(rc.ChunkSize, rc.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	store := retrieval.NewMemoryVectorStore(embedder)
	if err := store.AddDocuments(ctx, splitter.SplitDocuments(rc.Documents)); err != nil {
		return nil, err
	}
	return &retrieval.Retriever{Store: store, K: rc.K, ScoreThreshold: rc.ScoreThreshold}, nil
}

func (b *Builder) tools(ctx context.Context, cfg Config, path string) ([]tools.Tool, error) {
	out := make([]tools.Tool, 0, len(cfg.Tools))
	for i, tc := range cfg.Tools {
		tpath := fmt.Sprintf("%s.tools[%d]", path, i)
		switch tc.Type {
		case ToolConnector:
			if b.runner == nil {
				return nil, fmt.Errorf("%w: %s: connector tools are not available", ErrInvalidConfig, tpath)
			}
			if tc.Connector == "" && tc.Profile == "" {
				return nil, fmt.Errorf("%w: %s: connector or profile is required", ErrInvalidConfig, tpath)
			}
			if tc.Action == "" {
				return nil, fmt.Errorf("%w: %s: action is required", ErrInvalidConfig, tpath)
			}
			out = append(out, &tools.ConnectorTool{
				Runner:        b.runner,
				ToolName:      tc.Name,
				Desc:          tc.Description,
				Connector:     tc.Connector,
				Profile:       tc.Profile,
				Action:        tc.Action,
				Params:        tc.Params,
				Credentials:   tc.Credentials,
				CredentialRef: tc.CredentialRef,
				InputKey:      tc.InputKey,
			})
		case ToolRetriever:
			r, err := b.retriever(ctx, tc.Retriever, cfg.LLM, tpath+".retriever")
			if err != nil {
				return nil, err
			}
			out = append(out, &tools.RetrieverTool{Retriever: r, ToolName: tc.Name, Desc: tc.Description})
		default:
			return nil, fmt.Errorf("%w: %s: unknown tool type %q", ErrInvalidConfig, tpath, tc.Type)
		}
	}
	return out, nil
}

// DefaultModel builds OpenAI, Bedrock and fake models
func DefaultModel(cfg LLMConfig) (llm.Model, error) {
	switch cfg.Provider {
	case llm.ProviderOpenAI:
		return llm.NewOpenAI(llm.OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model, EmbeddingModel: cfg.EmbeddingModel})
	case llm.ProviderBedrock:
		return llm.NewBedrock(context.Background(), llm.BedrockConfig{Region: cfg.Region, Model: cfg.Model, EmbeddingModel: cfg.EmbeddingModel})
	case llm.ProviderFake:
		f := llm.NewFakeModel(cfg.Responses...)
		if cfg.Model != "" {
			f.Model = cfg.Model
		}
		f.Repeat = true
		return f, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// DefaultEmbedder builds OpenAI, Bedrock and fake embedders
func DefaultEmbedder(cfg LLMConfig) (llm.Embedder, error) {
	switch cfg.Provider {
	case llm.ProviderOpenAI:
		return llm.NewOpenAI(llm.OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model, EmbeddingModel: cfg.EmbeddingModel})
	case llm.ProviderBedrock:
		return llm.NewBedrock(context.Background(), llm.BedrockConfig{Region: cfg.Region, Model: cfg.Model, EmbeddingModel: cfg.EmbeddingModel})
	case llm.ProviderFake:
		return llm.FakeEmbedder{}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
