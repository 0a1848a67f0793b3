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

	"relayhub/platform/chains/agent"
)

// Agent chain keys
const (
	DefaultAgentInput    = "input"
	DefaultAgentOutput   = "output"
	IntermediateStepsKey = "intermediate_steps"
)

// AgentChain runs a ReAct executor on one input
type AgentChain struct {
	Executor    *agent.Executor
	InputKey    string
	OutputKey   string
	ReturnSteps bool
}

// NewAgentChain wraps an executor
func NewAgentChain(ex *agent.Executor) *AgentChain {
	return &AgentChain{Executor: ex, InputKey: DefaultAgentInput, OutputKey: DefaultAgentOutput}
}

// InputKeys implements Chain
func (a *AgentChain) InputKeys() []string { return []string{a.inputKey()} }

// OutputKeys implements Chain
func (a *AgentChain) OutputKeys() []string {
	if a.ReturnSteps {
		return []string{a.outputKey(), IntermediateStepsKey}
	}
	return []string{a.outputKey()}
}

// Call implements Chain
func (a *AgentChain) Call(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	res, err := a.Executor.Run(ctx, stringInput(inputs, a.inputKey()))
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{a.outputKey(): res.Output}
	if a.ReturnSteps {
		steps := res.Steps
		if steps == nil {
			steps = []agent.Step{}
		}
		out[IntermediateStepsKey] = steps
	}
	return out, nil
}

func (a *AgentChain) inputKey() string {
	if a.InputKey == "" {
		return DefaultAgentInput
	}
	return a.InputKey
}

func (a *AgentChain) outputKey() string {
	if a.OutputKey == "" {
		return DefaultAgentOutput
	}
	return a.OutputKey
}

var _ Chain = (*AgentChain)(nil)
