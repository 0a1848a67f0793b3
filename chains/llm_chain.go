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

	"relayhub/platform/chains/llm"
	"relayhub/platform/chains/prompt"
)

// DefaultOutputKey is where LLMChain puts the completion
const DefaultOutputKey = "text"

// LLMChain formats a prompt and asks the model once. Exactly one of
// Prompt and Chat is set; Prompt is sent as a single user message.
type LLMChain struct {
	Model     llm.Model
	Prompt    *prompt.Template
	Chat      *prompt.ChatTemplate
	Options   llm.CallOptions
	OutputKey string
}

// NewLLMChain creates a chain over a text template
func NewLLMChain(model llm.Model, tmpl *prompt.Template) *LLMChain {
	return &LLMChain{Model: model, Prompt: tmpl, OutputKey: DefaultOutputKey}
}

// InputKeys are the template variables
func (c *LLMChain) InputKeys() []string {
	if c.Chat != nil {
		return c.Chat.InputVariables()
	}
	if c.Prompt != nil {
		return c.Prompt.InputVariables()
	}
	return nil
}

// OutputKeys implements Chain
func (c *LLMChain) OutputKeys() []string { return []string{c.outputKey()} }

// Call implements Chain
func (c *LLMChain) Call(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	text, err := c.Predict(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{c.outputKey(): text}, nil
}

// Predict returns the completion text
func (c *LLMChain) Predict(ctx context.Context, inputs map[string]interface{}) (string, error) {
	messages, err := c.messages(inputs)
	if err != nil {
		return "", err
	}
	gen, err := c.Model.Generate(ctx, messages, c.Options)
	if err != nil {
		return "", err
	}
	return gen.Content, nil
}

func (c *LLMChain) messages(inputs map[string]interface{}) ([]llm.Message, error) {
	switch {
	case c.Chat != nil:
		return c.Chat.Format(inputs)
	case c.Prompt != nil:
		text, err := c.Prompt.Format(inputs)
		if err != nil {
			return nil, err
		}
		return []llm.Message{llm.User(text)}, nil
	default:
		return nil, errors.New("chains: llm chain has no prompt")
	}
}

func (c *LLMChain) outputKey() string {
	if c.OutputKey == "" {
		return DefaultOutputKey
	}
	return c.OutputKey
}

var _ Chain = (*LLMChain)(nil)
