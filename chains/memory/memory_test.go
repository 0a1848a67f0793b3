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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/platform/chains/llm"
)

func TestBufferMemory(t *testing.T) {
	ctx := context.Background()
	m := NewBuffer(NewInMemoryStore())
	require.NoError(t, m.Save(ctx, "h", "hi", "hello"))
	require.NoError(t, m.Save(ctx, "h", "how are you", "fine"))

	vars, err := m.Load(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "Human: hi\nAI: hello\nHuman: how are you\nAI: fine", vars["history"])

	vars, err = m.Load(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, "", vars["history"])

	require.NoError(t, m.Clear(ctx, "h"))
	vars, _ = m.Load(ctx, "h")
	assert.Equal(t, "", vars["history"])
}

func TestBufferCustomPrefixes(t *testing.T) {
	ctx := context.Background()
	m := NewBuffer(NewInMemoryStore())
	m.Key, m.HumanPrefix, m.AIPrefix = "chat", "User", "Bot"
	require.NoError(t, m.Save(ctx, "h", "a", "b"))
	vars, err := m.Load(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "User: a\nBot: b", vars["chat"])
	assert.Equal(t, "chat", m.MemoryKey())
}

func TestWindowMemory(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	m := NewWindow(store, 2)
	for _, turn := range []string{"1", "2", "3"} {
		require.NoError(t, m.Save(ctx, "h", "q"+turn, "a"+turn))
	}
	vars, err := m.Load(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "Human: q2\nAI: a2\nHuman: q3\nAI: a3", vars["history"])

	all, _ := store.Load(ctx, "h")
	assert.Len(t, all, 6)
}

func TestSummaryMemory(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	model := llm.NewFakeModel("The human greeted the AI.", "They talked about Go.")
	m := NewSummary(store, model, 4)

	require.NoError(t, m.Save(ctx, "h", "hi", "hello"))
	require.NoError(t, m.Save(ctx, "h", "how are you", "fine"))
	assert.Empty(t, model.Calls())

	require.NoError(t, m.Save(ctx, "h", "what is go", "a language"))
	require.Len(t, model.Calls(), 1)
	p := model.LastPrompt()
	assert.Contains(t, p, "Human: hi\nAI: hello\nHuman: how are you\nAI: fine")
	assert.NotContains(t, p, "what is go")

	msgs, _ := store.Load(ctx, "h")
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.System("The human greeted the AI."), msgs[0])

	vars, err := m.Load(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "System: The human greeted the AI.\nHuman: what is go\nAI: a language", vars["history"])

	require.NoError(t, m.Save(ctx, "h", "more", "sure"))
	require.NoError(t, m.Save(ctx, "h", "again", "ok"))
	require.Len(t, model.Calls(), 2)
	assert.True(t, strings.Contains(model.LastPrompt(), "Current summary:\nThe human greeted the AI."))
	msgs, _ = store.Load(ctx, "h")
	assert.Equal(t, llm.System("They talked about Go."), msgs[0])
	assert.Equal(t, []llm.Message{llm.User("again"), llm.Assistant("ok")}, msgs[1:])
}

func TestSummaryModelFailureKeepsHistory(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	m := NewSummary(store, llm.NewFakeModel(), 2)
	require.NoError(t, m.Save(ctx, "h", "a", "b"))
	err := m.Save(ctx, "h", "c", "d")
	assert.ErrorIs(t, err, llm.ErrNoResponses)
	msgs, _ := store.Load(ctx, "h")
	assert.Len(t, msgs, 2)
}
