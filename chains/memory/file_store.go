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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"relayhub/platform/chains/llm"
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// FileStore writes one JSON file per history under a directory. Writes go
// to a temp file that is renamed into place, so readers never see a
// partial history.
type FileStore struct {
	dir   string
	locks sync.Map // id -> *sync.Mutex
}

// NewFileStore creates dir if needed
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("memory: file store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("memory: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the storage directory
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file backing id. IDs outside [A-Za-z0-9_-] are hashed
// so they can never escape the directory.
func (s *FileStore) Path(id string) string {
	name := id
	if !safeID.MatchString(id) {
		sum := sha256.Sum256([]byte(id))
		name = "h-" + hex.EncodeToString(sum[:16])
	}
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Load reads the history, empty when no file exists
func (s *FileStore) Load(_ context.Context, id string) ([]llm.Message, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	unlock := s.lock(id)
	defer unlock()
	return s.read(id)
}

// Save replaces the history
func (s *FileStore) Save(_ context.Context, id string, messages []llm.Message) error {
	if err := checkID(id); err != nil {
		return err
	}
	unlock := s.lock(id)
	defer unlock()
	return s.write(id, messages)
}

// Update reads, applies fn and writes while holding the ID lock
func (s *FileStore) Update(_ context.Context, id string, fn UpdateFunc) error {
	if err := checkID(id); err != nil {
		return err
	}
	unlock := s.lock(id)
	defer unlock()
	current, err := s.read(id)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return s.write(id, next)
}

// Delete removes the file. Deleting an unknown ID is not an error.
func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	unlock := s.lock(id)
	defer unlock()
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("memory: delete %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) read(id string) ([]llm.Message, error) {
	data, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: read %s: %w", id, err)
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("memory: decode %s: %w", id, err)
	}
	return h.Messages, nil
}

func (s *FileStore) write(id string, messages []llm.Message) error {
	if messages == nil {
		messages = []llm.Message{}
	}
	data, err := json.MarshalIndent(History{ID: id, Messages: messages, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("memory: write %s: %w", id, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("memory: write %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("memory: write %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(id)); err != nil {
		return fmt.Errorf("memory: write %s: %w", id, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
