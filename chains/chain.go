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

// Package chains composes models, prompts, memory, retrieval and agents
// into runnable chains. A Builder turns a nested Config into a Chain and
// a Service runs it, totals token usage and reports usage events.
//
// Chains take and return maps keyed by variable name:
//
//	llm           prompt variables              -> text
//	conversation  input, history_id             -> response
//	sequential    union of unresolved inputs    -> last chain's outputs
//	retrieval_qa  query                         -> result, source_documents
//	agent         input                         -> output, intermediate_steps
package chains

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidConfig wraps every Builder error
var ErrInvalidConfig = errors.New("invalid chain config")

// Chain is a runnable step with named inputs and outputs
type Chain interface {
	InputKeys() []string
	OutputKeys() []string
	Call(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error)
}

// MissingInputError lists required inputs absent from a call
type MissingInputError struct {
	Keys []string
}

func (e *MissingInputError) Error() string {
	return "missing chain inputs: " + strings.Join(e.Keys, ", ")
}

// Call validates that every input key is present, then runs c
func Call(ctx context.Context, c Chain, inputs map[string]interface{}) (map[string]interface{}, error) {
	var missing []string
	for _, k := range c.InputKeys() {
		if v, ok := inputs[k]; !ok || v == nil {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingInputError{Keys: missing}
	}
	return c.Call(ctx, inputs)
}

// Run calls a chain with a single input key and returns its single
// output as a string.
func Run(ctx context.Context, c Chain, input string) (string, error) {
	in := c.InputKeys()
	if len(in) != 1 {
		return "", fmt.Errorf("chains: Run needs exactly one input key, chain has %d", len(in))
	}
	out := c.OutputKeys()
	if len(out) == 0 {
		return "", errors.New("chains: chain has no outputs")
	}
	res, err := Call(ctx, c, map[string]interface{}{in[0]: input})
	if err != nil {
		return "", err
	}
	s, _ := res[out[0]].(string)
	return s, nil
}

func stringInput(inputs map[string]interface{}, key string) string {
	switch v := inputs[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func without(keys []string, drop ...string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		skip := false
		for _, d := range drop {
			if k == d {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, k)
		}
	}
	return out
}
