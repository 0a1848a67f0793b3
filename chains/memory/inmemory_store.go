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
	"sync"

	"relayhub/platform/chains/llm"
)

// InMemoryStore keeps histories in a map
type InMemoryStore struct {
	mu        sync.Mutex
	histories map[string][]llm.Message
}

// NewInMemoryStore creates an empty store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{histories: make(map[string][]llm.Message)}
}

// Load returns a copy of the history, empty when unknown
func (s *InMemoryStore) Load(_ context.Context, id string) ([]llm.Message, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.histories[id]...), nil
}

// Save replaces the history
func (s *InMemoryStore) Save(_ context.Context, id string, messages []llm.Message) error {
	if err := checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[id] = append([]llm.Message(nil), messages...)
	return nil
}

// Update runs fn under the store lock
func (s *InMemoryStore) Update(_ context.Context, id string, fn UpdateFunc) error {
	if err := checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(append([]llm.Message(nil), s.histories[id]...))
	if err != nil {
		return err
	}
	s.histories[id] = append([]llm.Message(nil), next...)
	return nil
}

// Delete drops the history
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, id)
	return nil
}

var _ Store = (*InMemoryStore)(nil)
