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

package base

// ActionKind distinguishes read actions (served by Query) from write actions (served by Execute).
type ActionKind string

const (
	ActionRead  ActionKind = "read"
	ActionWrite ActionKind = "write"
)

// ActionSpec describes one action a connector can perform.
type ActionSpec struct {
	Name        string     `json:"name"`
	Kind        ActionKind `json:"kind"`
	Description string     `json:"description"`
	Required    []string   `json:"required,omitempty"`
	Optional    []string   `json:"optional,omitempty"`
}

// Read is shorthand for declaring a read action.
func Read(name, description string, required ...string) ActionSpec {
	return ActionSpec{Name: name, Kind: ActionRead, Description: description, Required: required}
}

// Write is shorthand for declaring a write action.
func Write(name, description string, required ...string) ActionSpec {
	return ActionSpec{Name: name, Kind: ActionWrite, Description: description, Required: required}
}

// FindAction looks up an action by name.
func FindAction(actions []ActionSpec, name string) (ActionSpec, bool) {
	for _, a := range actions {
		if a.Name == name {
			return a, true
		}
	}
	return ActionSpec{}, false
}

// Validate checks that every required parameter of the action is present.
func (a ActionSpec) Validate(params map[string]interface{}) error {
	return RequireParams(params, a.Required...)
}
