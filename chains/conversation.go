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

	"relayhub/platform/chains/memory"
	"relayhub/platform/chains/prompt"
	"relayhub/platform/connectors/sdk"
)

// Conversation keys
const (
	HistoryIDKey              = "history_id"
	DefaultConversationInput  = "input"
	DefaultConversationOutput = "response"
)

// DefaultConversationPrompt takes history and input
var DefaultConversationPrompt = prompt.Must(`The following is a friendly conversation between a human and an AI. The AI is talkative and provides lots of specific details from its context. If the AI does not know the answer to a question, it truthfully says it does not know.

Current conversation:
{history}
Human: {input}
AI:`)

// ConversationChain loads the history of history_id into the prompt,
// asks the model and saves the new exchange.
type ConversationChain struct {
	LLM       *LLMChain
	Memory    memory.Memory
	InputKey  string
	OutputKey string
}

// NewConversationChain uses the default prompt when llmChain has none
func NewConversationChain(llmChain *LLMChain, mem memory.Memory) *ConversationChain {
	if llmChain.Prompt == nil && llmChain.Chat == nil {
		llmChain.Prompt = DefaultConversationPrompt
	}
	return &ConversationChain{LLM: llmChain, Memory: mem, InputKey: DefaultConversationInput, OutputKey: DefaultConversationOutput}
}

// InputKeys are the prompt variables minus the memory key, plus history_id
func (c *ConversationChain) InputKeys() []string {
	keys := without(c.LLM.InputKeys(), c.Memory.MemoryKey(), c.inputKey(), DefaultConversationInput)
	return append([]string{c.inputKey(), HistoryIDKey}, keys...)
}

// OutputKeys implements Chain
func (c *ConversationChain) OutputKeys() []string { return []string{c.outputKey()} }

// Call implements Chain
func (c *ConversationChain) Call(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	historyID := stringInput(inputs, HistoryIDKey)
	if historyID == "" {
		return nil, &MissingInputError{Keys: []string{HistoryIDKey}}
	}
	historyID = HistoryKey(ctx, historyID)
	vars, err := c.Memory.Load(ctx, historyID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	values := make(map[string]interface{}, len(inputs)+len(vars))
	for k, v := range inputs {
		values[k] = v
	}
	for k, v := range vars {
		values[k] = v
	}
	input := stringInput(inputs, c.inputKey())
	values[DefaultConversationInput] = input

	out, err := c.LLM.Predict(ctx, values)
	if err != nil {
		return nil, err
	}
	if err := c.Memory.Save(ctx, historyID, input, out); err != nil {
		return nil, fmt.Errorf("save history: %w", err)
	}
	return map[string]interface{}{c.outputKey(): out}, nil
}

// HistoryKey is the store key for a history_id. Histories are namespaced
// by the tenant in ctx so tenants cannot read each other's conversations.
func HistoryKey(ctx context.Context, historyID string) string {
	if tenant := sdk.GetTenantID(ctx); tenant != "" {
		return tenant + "/" + historyID
	}
	return historyID
}

func (c *ConversationChain) inputKey() string {
	if c.InputKey == "" {
		return DefaultConversationInput
	}
	return c.InputKey
}

func (c *ConversationChain) outputKey() string {
	if c.OutputKey == "" {
		return DefaultConversationOutput
	}
	return c.OutputKey
}

var _ Chain = (*ConversationChain)(nil)
