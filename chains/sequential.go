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
)

// SequentialChain feeds each chain the caller's inputs plus every output
// produced before it.
type SequentialChain struct {
	Chains     []Chain
	inputKeys  []string
	outputKeys []string
}

// NewSequentialChain checks that every chain's inputs are available when
// it runs. Empty inputKeys are inferred as the inputs no earlier chain
// produces; empty outputKeys default to the last chain's outputs.
func NewSequentialChain(chains []Chain, inputKeys, outputKeys []string) (*SequentialChain, error) {
	if len(chains) == 0 {
		return nil, fmt.Errorf("%w: sequential chain needs at least one chain", ErrInvalidConfig)
	}
	if len(inputKeys) == 0 {
		inputKeys = inferInputs(chains)
	}
	known := make(map[string]bool)
	for _, k := range inputKeys {
		known[k] = true
	}
	for i, c := range chains {
		for _, k := range c.InputKeys() {
			if !known[k] {
				return nil, fmt.Errorf("%w: chain %d needs %q, which is neither an input nor an earlier output", ErrInvalidConfig, i, k)
			}
		}
		for _, k := range c.OutputKeys() {
			if known[k] {
				return nil, fmt.Errorf("%w: chain %d output %q overwrites an existing variable", ErrInvalidConfig, i, k)
			}
			known[k] = true
		}
	}
	if len(outputKeys) == 0 {
		outputKeys = chains[len(chains)-1].OutputKeys()
	}
	for _, k := range outputKeys {
		if !known[k] {
			return nil, fmt.Errorf("%w: output %q is never produced", ErrInvalidConfig, k)
		}
	}
	return &SequentialChain{Chains: chains, inputKeys: inputKeys, outputKeys: outputKeys}, nil
}

func inferInputs(chains []Chain) []string {
	var inputs []string
	produced := make(map[string]bool)
	seen := make(map[string]bool)
	for _, c := range chains {
		for _, k := range c.InputKeys() {
			if !produced[k] && !seen[k] {
				seen[k] = true
				inputs = append(inputs, k)
			}
		}
		for _, k := range c.OutputKeys() {
			produced[k] = true
		}
	}
	return inputs
}

// InputKeys implements Chain
func (s *SequentialChain) InputKeys() []string { return s.inputKeys }

// OutputKeys implements Chain
func (s *SequentialChain) OutputKeys() []string { return s.outputKeys }

// Call implements Chain
func (s *SequentialChain) Call(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		values[k] = v
	}
	for i, c := range s.Chains {
		out, err := Call(ctx, c, values)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		for k, v := range out {
			values[k] = v
		}
	}
	result := make(map[string]interface{}, len(s.outputKeys))
	for _, k := range s.outputKeys {
		result[k] = values[k]
	}
	return result, nil
}

var _ Chain = (*SequentialChain)(nil)
