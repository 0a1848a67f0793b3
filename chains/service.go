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
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"relayhub/platform/chains/llm"
	"relayhub/platform/common/usage"
	"relayhub/platform/connectors/sdk"
	"relayhub/platform/shared/logger"
)

// RunRequest is one chain execution
type RunRequest struct {
	Config    Config                 `json:"config"`
	Inputs    map[string]interface{} `json:"inputs"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// ModelCost is the usage and price of one model within a run
type ModelCost struct {
	llm.ModelUsage
	CostMicros int64 `json:"cost_micros"`
}

// RunResponse carries the outputs and what they cost
type RunResponse struct {
	RequestID  string                 `json:"request_id"`
	ChainType  string                 `json:"chain_type"`
	Outputs    map[string]interface{} `json:"outputs"`
	LatencyMs  int64                  `json:"latency_ms"`
	Usage      llm.Usage              `json:"usage"`
	CostMicros int64                  `json:"cost_micros"`
	Cost       string                 `json:"cost"`
	Models     []ModelCost            `json:"models,omitempty"`
}

// Service builds and runs chains
type Service struct {
	builder  *Builder
	recorder usage.Recorder
	pricing  *usage.Pricing
	log      *zap.SugaredLogger
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithRecorder sets where chain_run and llm_request events go
func WithRecorder(r usage.Recorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithPricing replaces the default price table
func WithPricing(p *usage.Pricing) ServiceOption { return func(s *Service) { s.pricing = p } }

// WithLogger sets the service logger
func WithLogger(l *zap.SugaredLogger) ServiceOption { return func(s *Service) { s.log = l } }

// NewService creates a service over builder
func NewService(builder *Builder, opts ...ServiceOption) *Service {
	s := &Service{
		builder:  builder,
		recorder: usage.NopRecorder{},
		pricing:  usage.DefaultPricing(),
		log:      logger.New("chains").Sugared("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Builder returns the chain builder
func (s *Service) Builder() *Builder { return s.builder }

// Run builds req.Config, calls it with req.Inputs and reports usage.
// Build errors wrap ErrInvalidConfig and are not reported.
func (s *Service) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	if req.RequestID == "" {
		req.RequestID = sdk.GetRequestID(ctx)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.TenantID == "" {
		req.TenantID = sdk.GetTenantID(ctx)
	}
	ctx = sdk.WithRequestID(sdk.WithTenantID(ctx, req.TenantID), req.RequestID)

	tracker := llm.NewTracker()
	chain, err := s.builder.BuildWithTracker(ctx, req.Config, tracker)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	outputs, runErr := Call(ctx, chain, inputs)
	latency := time.Since(start)

	resp := &RunResponse{
		RequestID: req.RequestID,
		ChainType: req.Config.ChainType,
		Outputs:   outputs,
		LatencyMs: latency.Milliseconds(),
	}
	for _, mu := range tracker.Totals() {
		cost := s.pricing.Cost(mu.Provider, mu.Model, mu.Usage.PromptTokens, mu.Usage.CompletionTokens)
		resp.Models = append(resp.Models, ModelCost{ModelUsage: mu, CostMicros: cost})
		resp.Usage = resp.Usage.Add(mu.Usage)
		resp.CostMicros += cost
	}
	resp.Cost = usage.FormatCost(resp.CostMicros)
	s.report(req, resp, runErr)

	if runErr != nil {
		s.log.Warnw("Chain run failed", "chain_type", resp.ChainType, "request_id", resp.RequestID, "error", runErr)
		return nil, runErr
	}
	s.log.Debugw("Chain run", "chain_type", resp.ChainType, "request_id", resp.RequestID,
		"latency_ms", resp.LatencyMs, "total_tokens", resp.Usage.TotalTokens)
	return resp, nil
}

// report hands events to the recorder, which must not block
func (s *Service) report(req *RunRequest, resp *RunResponse, runErr error) {
	var errText string
	if runErr != nil {
		errText = runErr.Error()
	}
	s.recorder.Report(usage.Event{
		Type:             usage.TypeChainRun,
		TenantID:         req.TenantID,
		RequestID:        req.RequestID,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CostMicros:       resp.CostMicros,
		LatencyMs:        resp.LatencyMs,
		Success:          runErr == nil,
		Error:            errText,
		Fields:           map[string]interface{}{"chain_type": resp.ChainType, "models": len(resp.Models)},
	})
	for _, m := range resp.Models {
		e := usage.LLMEvent(m.Provider, m.Model, m.Usage.PromptTokens, m.Usage.CompletionTokens, m.Latency)
		e.TenantID = req.TenantID
		e.RequestID = req.RequestID
		e.CostMicros = m.CostMicros
		e.Success = m.Errors == 0
		e.Fields = map[string]interface{}{"chain_type": resp.ChainType, "calls": m.Calls, "errors": m.Errors}
		s.recorder.Report(e)
	}
}
