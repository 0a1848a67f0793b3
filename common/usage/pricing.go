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

package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ModelPricing is micro-USD per 1K tokens
type ModelPricing struct {
	PromptPer1K     int64 `json:"prompt_per_1k"`
	CompletionPer1K int64 `json:"completion_per_1k"`
}

// Pricing maps provider -> model -> price. The "*" model is the provider
// fallback.
type Pricing struct {
	mu        sync.RWMutex
	providers map[string]map[string]ModelPricing
	fallback  ModelPricing
}

// DefaultFallback prices models no table entry covers
var DefaultFallback = ModelPricing{PromptPer1K: 10000, CompletionPer1K: 30000}

var defaultTable = map[string]map[string]ModelPricing{
	"openai": {
		"gpt-4o":                 {2500, 10000},
		"gpt-4o-mini":            {150, 600},
		"gpt-4-turbo":            {10000, 30000},
		"gpt-4":                  {30000, 60000},
		"gpt-4-32k":              {60000, 120000},
		"gpt-3.5-turbo":          {500, 1500},
		"o1":                     {15000, 60000},
		"o1-mini":                {3000, 12000},
		"text-embedding-3-small": {20, 0},
		"text-embedding-3-large": {130, 0},
		"text-embedding-ada-002": {100, 0},
		"omni-moderation":        {0, 0},
		"text-moderation":        {0, 0},
		"*":                      {10000, 30000},
	},
	"anthropic": {
		"claude-3-opus":     {15000, 75000},
		"claude-3-sonnet":   {3000, 15000},
		"claude-3-haiku":    {250, 1250},
		"claude-3-5-sonnet": {3000, 15000},
		"claude-3-5-haiku":  {800, 4000},
		"*":                 {3000, 15000},
	},
	"fake": {
		"*": {0, 0},
	},
}

// NewPricing returns a copy of the built-in table
func NewPricing() *Pricing {
	p := &Pricing{providers: map[string]map[string]ModelPricing{}, fallback: DefaultFallback}
	p.merge(defaultTable)
	return p
}

// LoadPricingFile merges a JSON file of the form
// {"openai": {"gpt-4o": {"prompt_per_1k": 2500, "completion_per_1k": 10000}}}
// over the built-in table.
func LoadPricingFile(path string) (*Pricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var custom map[string]map[string]ModelPricing
	if err := json.Unmarshal(data, &custom); err != nil {
		return nil, fmt.Errorf("invalid pricing file %s: %w", path, err)
	}
	p := NewPricing()
	p.merge(custom)
	return p, nil
}

func (p *Pricing) merge(table map[string]map[string]ModelPricing) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for provider, models := range table {
		provider = strings.ToLower(provider)
		if p.providers[provider] == nil {
			p.providers[provider] = map[string]ModelPricing{}
		}
		for model, price := range models {
			p.providers[provider][strings.ToLower(model)] = price
		}
	}
}

// Set overrides the price of one model
func (p *Pricing) Set(provider, model string, price ModelPricing) {
	p.merge(map[string]map[string]ModelPricing{provider: {model: price}})
}

// Lookup resolves a model's price: exact name, then the longest known
// prefix (so "gpt-4o-2024-08-06" prices as "gpt-4o"), then the
// provider's "*" entry, then the global fallback.
func (p *Pricing) Lookup(provider, model string) ModelPricing {
	p.mu.RLock()
	defer p.mu.RUnlock()

	models, ok := p.providers[strings.ToLower(provider)]
	if !ok {
		return p.fallback
	}
	model = strings.ToLower(model)
	if price, ok := models[model]; ok {
		return price
	}
	best, bestLen := ModelPricing{}, 0
	for name, price := range models {
		if name != "*" && len(name) > bestLen && strings.HasPrefix(model, name) {
			best, bestLen = price, len(name)
		}
	}
	if bestLen > 0 {
		return best
	}
	if price, ok := models["*"]; ok {
		return price
	}
	return p.fallback
}

// Cost returns the micro-USD cost of a request, rounded to the nearest micro
func (p *Pricing) Cost(provider, model string, promptTokens, completionTokens int) int64 {
	price := p.Lookup(provider, model)
	total := int64(promptTokens)*price.PromptPer1K + int64(completionTokens)*price.CompletionPer1K
	return (total + 500) / 1000
}

var defaultPricing = NewPricing()

// DefaultPricing is the process-wide table used by CalculateCost
func DefaultPricing() *Pricing { return defaultPricing }

// CalculateCost prices a request against the default table
func CalculateCost(provider, model string, promptTokens, completionTokens int) int64 {
	return defaultPricing.Cost(provider, model, promptTokens, completionTokens)
}

// FormatCost renders micro-USD as dollars, e.g. 1500 -> "$0.001500"
func FormatCost(micros int64) string {
	sign := ""
	if micros < 0 {
		sign, micros = "-", -micros
	}
	return fmt.Sprintf("%s$%d.%06d", sign, micros/1_000_000, micros%1_000_000)
}
