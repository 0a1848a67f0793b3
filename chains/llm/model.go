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
	"strings"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when a provider answers without choices
var ErrEmptyResponse = errors.New("llm: empty response")

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System builds a system message
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds an assistant message
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// CallOptions tune a single generation. Zero values leave the provider
// default in place.
type CallOptions struct {
	Model       string   `json:"model,omitempty" yaml:"model"`
	Temperature *float32 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Stop        []string `json:"stop,omitempty" yaml:"stop"`
	JSONMode    bool     `json:"json_mode,omitempty" yaml:"json_mode"`
}

// Merge returns o with the fields set in override replacing its own
func (o CallOptions) Merge(override CallOptions) CallOptions {
	if override.Model != "" {
		o.Model = override.Model
	}
	if override.Temperature != nil {
		o.Temperature = override.Temperature
	}
	if override.MaxTokens > 0 {
		o.MaxTokens = override.MaxTokens
	}
	if len(override.Stop) > 0 {
		o.Stop = append([]string(nil), override.Stop...)
	}
	o.JSONMode = o.JSONMode || override.JSONMode
	return o
}

// Usage counts tokens for one or more calls
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// Generation is a model answer
type Generation struct {
	Content      string `json:"content"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Model generates the next assistant message for a transcript.
// Implementations must be safe for concurrent use.
type Model interface {
	Generate(ctx context.Context, messages []Message, opts CallOptions) (*Generation, error)
}

// Embedder turns texts into vectors, one per input in order
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Prompt sends a single user message and returns the content
func Prompt(ctx context.Context, m Model, text string, opts CallOptions) (string, error) {
	gen, err := m.Generate(ctx, []Message{User(text)}, opts)
	if err != nil {
		return "", err
	}
	return gen.Content, nil
}

// Transcript renders messages as "role: content" lines
func Transcript(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
