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

package memory

import (
	"context"
	"fmt"
	"strings"

	"relayhub/platform/chains/llm"
	"relayhub/platform/chains/prompt"
)

// Defaults shared by every strategy
const (
	DefaultMemoryKey    = "history"
	DefaultHumanPrefix  = "Human"
	DefaultAIPrefix     = "AI"
	DefaultWindowK      = 5
	DefaultMaxMessages  = 10
	DefaultKeepMessages = 2
)

// Memory feeds history into prompts and records new exchanges
type Memory interface {
	// MemoryKey is the prompt variable the history is exposed under
	MemoryKey() string
	Load(ctx context.Context, historyID string) (map[string]interface{}, error)
	Save(ctx context.Context, historyID, input, output string) error
	Clear(ctx context.Context, historyID string) error
}

// Format renders messages as prefixed lines
func Format(messages []llm.Message, humanPrefix, aiPrefix string) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		var who string
		switch m.Role {
		case llm.RoleUser:
			who = humanPrefix
		case llm.RoleAssistant:
			who = aiPrefix
		default:
			who = "System"
		}
		lines = append(lines, who+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Buffer exposes the whole history
type Buffer struct {
	Store       Store
	Key         string
	HumanPrefix string
	AIPrefix    string
}

// NewBuffer creates a buffer memory over store
func NewBuffer(store Store) *Buffer {
	return &Buffer{Store: store, Key: DefaultMemoryKey, HumanPrefix: DefaultHumanPrefix, AIPrefix: DefaultAIPrefix}
}

// MemoryKey implements Memory
func (b *Buffer) MemoryKey() string {
	if b.Key == "" {
		return DefaultMemoryKey
	}
	return b.Key
}

// Messages returns the stored history
func (b *Buffer) Messages(ctx context.Context, historyID string) ([]llm.Message, error) {
	return b.Store.Load(ctx, historyID)
}

// Load implements Memory
func (b *Buffer) Load(ctx context.Context, historyID string) (map[string]interface{}, error) {
	msgs, err := b.Store.Load(ctx, historyID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{b.MemoryKey(): b.format(msgs)}, nil
}

// Save appends the exchange
func (b *Buffer) Save(ctx context.Context, historyID, input, output string) error {
	return b.Store.Update(ctx, historyID, func(msgs []llm.Message) ([]llm.Message, error) {
		return append(msgs, llm.User(input), llm.Assistant(output)), nil
	})
}

// Clear deletes the history
func (b *Buffer) Clear(ctx context.Context, historyID string) error {
	return b.Store.Delete(ctx, historyID)
}

func (b *Buffer) format(msgs []llm.Message) string {
	human, ai := b.HumanPrefix, b.AIPrefix
	if human == "" {
		human = DefaultHumanPrefix
	}
	if ai == "" {
		ai = DefaultAIPrefix
	}
	return Format(msgs, human, ai)
}

// Window exposes the last K exchanges. The full history is still stored.
type Window struct {
	*Buffer
	K int
}

// NewWindow creates a window memory keeping k exchanges
func NewWindow(store Store, k int) *Window {
	if k <= 0 {
		k = DefaultWindowK
	}
	return &Window{Buffer: NewBuffer(store), K: k}
}

// Load implements Memory
func (w *Window) Load(ctx context.Context, historyID string) (map[string]interface{}, error) {
	msgs, err := w.Store.Load(ctx, historyID)
	if err != nil {
		return nil, err
	}
	if keep := 2 * w.K; len(msgs) > keep {
		msgs = msgs[len(msgs)-keep:]
	}
	return map[string]interface{}{w.MemoryKey(): w.format(msgs)}, nil
}

var summarizePrompt = prompt.Must(`Progressively summarize the lines of conversation provided, adding onto the previous summary and returning a new summary.

Current summary:
{summary}

New lines of conversation:
{new_lines}

New summary:`)

// Summary folds older turns into a model-written summary once the
// history grows past MaxMessages. The summary is stored as a leading
// system message followed by the KeepMessages most recent messages.
type Summary struct {
	*Buffer
	Model        llm.Model
	Options      llm.CallOptions
	MaxMessages  int
	KeepMessages int
}

// NewSummary creates a summary memory
func NewSummary(store Store, model llm.Model, maxMessages int) *Summary {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Summary{Buffer: NewBuffer(store), Model: model, MaxMessages: maxMessages, KeepMessages: DefaultKeepMessages}
}

// Save appends the exchange and summarizes when over the threshold
func (s *Summary) Save(ctx context.Context, historyID, input, output string) error {
	return s.Store.Update(ctx, historyID, func(msgs []llm.Message) ([]llm.Message, error) {
		var current string
		turns := msgs
		if len(turns) > 0 && turns[0].Role == llm.RoleSystem {
			current, turns = turns[0].Content, turns[1:]
		}
		turns = append(turns, llm.User(input), llm.Assistant(output))
		if len(turns) <= s.MaxMessages {
			return prepend(current, turns), nil
		}

		keep := s.KeepMessages
		if keep < 0 || keep > len(turns) {
			keep = 0
		}
		older, recent := turns[:len(turns)-keep], turns[len(turns)-keep:]
		summary, err := s.summarize(ctx, current, older)
		if err != nil {
			return nil, err
		}
		return prepend(summary, append([]llm.Message(nil), recent...)), nil
	})
}

func (s *Summary) summarize(ctx context.Context, current string, lines []llm.Message) (string, error) {
	text, err := summarizePrompt.Format(map[string]interface{}{
		"summary":   current,
		"new_lines": s.format(lines),
	})
	if err != nil {
		return "", err
	}
	out, err := llm.Prompt(ctx, s.Model, text, s.Options)
	if err != nil {
		return "", fmt.Errorf("memory: summarize: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func prepend(summary string, turns []llm.Message) []llm.Message {
	if summary == "" {
		return turns
	}
	return append([]llm.Message{llm.System(summary)}, turns...)
}

var (
	_ Memory = (*Buffer)(nil)
	_ Memory = (*Window)(nil)
	_ Memory = (*Summary)(nil)
)
