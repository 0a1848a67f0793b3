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
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// ProviderFake names generations produced by FakeModel
const ProviderFake = "fake"

// ErrNoResponses is returned once a FakeModel runs out of script
var ErrNoResponses = errors.New("llm: fake model has no responses left")

// FakeModel replays scripted responses in order. Token counts are word
// counts of the prompt and the response.
type FakeModel struct {
	Model     string
	Responses []string
	// Repeat keeps returning the last response once the script is exhausted
	Repeat bool
	Err    error

	mu    sync.Mutex
	next  int
	calls [][]Message
	opts  []CallOptions
}

// NewFakeModel scripts responses for the "fake" model
func NewFakeModel(responses ...string) *FakeModel {
	return &FakeModel{Model: "fake-model", Responses: responses}
}

// Generate returns the next scripted response
func (f *FakeModel) Generate(ctx context.Context, messages []Message, opts CallOptions) (*Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]Message(nil), messages...))
	f.opts = append(f.opts, opts)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.next >= len(f.Responses) {
		if !f.Repeat || len(f.Responses) == 0 {
			return nil, ErrNoResponses
		}
		f.next = len(f.Responses) - 1
	}
	content := f.Responses[f.next]
	f.next++

	model := f.Model
	if opts.Model != "" {
		model = opts.Model
	}
	prompt := 0
	for _, m := range messages {
		prompt += len(strings.Fields(m.Content))
	}
	completion := len(strings.Fields(content))
	return &Generation{
		Content:      content,
		Provider:     ProviderFake,
		Model:        model,
		FinishReason: "stop",
		Usage:        Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion},
	}, nil
}

// Calls returns the transcripts received so far
func (f *FakeModel) Calls() [][]Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]Message(nil), f.calls...)
}

// Options returns the call options received so far
func (f *FakeModel) Options() []CallOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CallOptions(nil), f.opts...)
}

// LastPrompt is the content of the final message of the latest call
func (f *FakeModel) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	last := f.calls[len(f.calls)-1]
	if len(last) == 0 {
		return ""
	}
	return last[len(last)-1].Content
}

// FakeEmbedder hashes lowercased words into a fixed number of buckets and
// normalizes the result. Texts that share words land close together.
type FakeEmbedder struct {
	Dimensions int
}

// Embed implements Embedder
func (e FakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dims := e.Dimensions
	if dims <= 0 {
		dims = 64
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, dims)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,;:!?\"'()")
			if word == "" {
				continue
			}
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			vec[h.Sum32()%uint32(dims)]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for j := range vec {
				vec[j] /= n
			}
		}
		out[i] = vec
	}
	return out, nil
}

var (
	_ Model    = (*FakeModel)(nil)
	_ Embedder = FakeEmbedder{}
)
