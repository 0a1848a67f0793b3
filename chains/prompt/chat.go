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

package prompt

import (
	"fmt"

	"relayhub/platform/chains/llm"
)

// MessageTemplate is one role/template pair
type MessageTemplate struct {
	Role     string
	Template *Template
}

// ChatTemplate renders a transcript
type ChatTemplate struct {
	messages []MessageTemplate
}

// NewChatTemplate parses (role, text) pairs
func NewChatTemplate(pairs ...[2]string) (*ChatTemplate, error) {
	ct := &ChatTemplate{}
	for i, p := range pairs {
		switch p[0] {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, fmt.Errorf("%w: message %d has unsupported role %q", ErrSyntax, i, p[0])
		}
		t, err := New(p[1])
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		ct.messages = append(ct.messages, MessageTemplate{Role: p[0], Template: t})
	}
	return ct, nil
}

// InputVariables is the union over every message, in order
func (ct *ChatTemplate) InputVariables() []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range ct.messages {
		for _, v := range m.Template.InputVariables() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// Partial fixes variables on every message
func (ct *ChatTemplate) Partial(values map[string]interface{}) *ChatTemplate {
	cp := &ChatTemplate{messages: make([]MessageTemplate, len(ct.messages))}
	for i, m := range ct.messages {
		cp.messages[i] = MessageTemplate{Role: m.Role, Template: m.Template.Partial(values)}
	}
	return cp
}

// Format renders each message
func (ct *ChatTemplate) Format(values map[string]interface{}) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(ct.messages))
	for _, m := range ct.messages {
		text, err := m.Template.Format(values)
		if err != nil {
			return nil, err
		}
		out = append(out, llm.Message{Role: m.Role, Content: text})
	}
	return out, nil
}
