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
	"sort"
	"sync"
	"time"
)

// ModelUsage totals the calls made to one provider/model pair
type ModelUsage struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Calls    int           `json:"calls"`
	Errors   int           `json:"errors"`
	Usage    Usage         `json:"usage"`
	Latency  time.Duration `json:"latency"`
}

// Tracker accumulates token usage across every model it wraps. It is safe
// for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	totals map[[2]string]*ModelUsage
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{totals: make(map[[2]string]*ModelUsage)}
}

// Wrap returns a Model that records every call on t. The provider name
// is used until a generation reports its own.
func (t *Tracker) Wrap(m Model, provider, model string) Model {
	return &trackedModel{next: m, tracker: t, provider: provider, model: model}
}

// Record adds one call to the totals
func (t *Tracker) Record(provider, model string, u Usage, latency time.Duration, err error) {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := [2]string{provider, model}
	mu, ok := t.totals[key]
	if !ok {
		mu = &ModelUsage{Provider: provider, Model: model}
		t.totals[key] = mu
	}
	mu.Calls++
	if err != nil {
		mu.Errors++
	}
	mu.Usage = mu.Usage.Add(u)
	mu.Latency += latency
}

// Totals returns a snapshot sorted by provider then model
func (t *Tracker) Totals() []ModelUsage {
	t.mu.Lock()
	out := make([]ModelUsage, 0, len(t.totals))
	for _, mu := range t.totals {
		out = append(out, *mu)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Usage sums tokens over every model
func (t *Tracker) Usage() Usage {
	var sum Usage
	for _, mu := range t.Totals() {
		sum = sum.Add(mu.Usage)
	}
	return sum
}

type trackedModel struct {
	next     Model
	tracker  *Tracker
	provider string
	model    string
}

func (m *trackedModel) Generate(ctx context.Context, messages []Message, opts CallOptions) (*Generation, error) {
	start := time.Now()
	gen, err := m.next.Generate(ctx, messages, opts)
	provider, model := m.provider, m.model
	if opts.Model != "" {
		model = opts.Model
	}
	var u Usage
	if gen != nil {
		u = gen.Usage
		if gen.Provider != "" {
			provider = gen.Provider
		}
		if gen.Model != "" {
			model = gen.Model
		}
	}
	m.tracker.Record(provider, model, u, time.Since(start), err)
	return gen, err
}
