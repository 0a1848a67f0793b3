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

// Package memory keeps conversation history between chain runs.
//
// A Store persists the raw messages of each history ID. A Memory decides
// what part of that history reaches the prompt: Buffer passes everything,
// Window the last K exchanges, Summary a running model-written summary
// plus the most recent turns.
package memory

import (
	"context"
	"errors"
	"time"

	"relayhub/platform/chains/llm"
)

// ErrInvalidID is returned for empty history IDs
var ErrInvalidID = errors.New("memory: history id is required")

// History is the persisted form of one conversation
type History struct {
	ID        string        `json:"history_id"`
	Messages  []llm.Message `json:"messages"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// UpdateFunc receives the current messages and returns the replacement
type UpdateFunc func([]llm.Message) ([]llm.Message, error)

// Store persists message histories. Update is atomic per ID.
type Store interface {
	Load(ctx context.Context, id string) ([]llm.Message, error)
	Save(ctx context.Context, id string, messages []llm.Message) error
	Update(ctx context.Context, id string, fn UpdateFunc) error
	Delete(ctx context.Context, id string) error
}

func checkID(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	return nil
}
