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
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	TypeConnectorCall = "connector_call"
	TypeLLMRequest    = "llm_request"
	TypeChainRun      = "chain_run"
)

// Event is one unit of metered work
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TenantID  string    `json:"tenant_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`

	Connector string `json:"connector,omitempty"`
	Action    string `json:"action,omitempty"`

	Provider         string `json:"provider,omitempty"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	TotalTokens      int    `json:"total_tokens,omitempty"`
	CostMicros       int64  `json:"cost_micros,omitempty"`

	LatencyMs int64                  `json:"latency_ms"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Recorder accepts events. Implementations must not block.
type Recorder interface {
	Report(e Event)
}

// NopRecorder discards events
type NopRecorder struct{}

// Report does nothing
func (NopRecorder) Report(Event) {}

// normalize fills the ID, timestamp and token total when unset
func (e *Event) normalize() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.TotalTokens == 0 {
		e.TotalTokens = e.PromptTokens + e.CompletionTokens
	}
}

// LLMEvent builds a priced llm_request event
func LLMEvent(provider, model string, promptTokens, completionTokens int, latency time.Duration) Event {
	return Event{
		Type:             TypeLLMRequest,
		Provider:         provider,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		CostMicros:       CalculateCost(provider, model, promptTokens, completionTokens),
		LatencyMs:        latency.Milliseconds(),
		Success:          true,
	}
}
