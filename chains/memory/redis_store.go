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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"relayhub/platform/chains/llm"
)

// DefaultRedisPrefix namespaces history keys
const DefaultRedisPrefix = "relayhub:history:"

// maxUpdateAttempts bounds optimistic retries when another writer
// touches the key between WATCH and EXEC.
const maxUpdateAttempts = 5

// RedisOptions configures a RedisStore
type RedisOptions struct {
	Prefix string
	// TTL expires idle histories; zero keeps them forever
	TTL time.Duration
}

// getter is satisfied by both the client and a WATCH transaction
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps each history as a JSON string under prefix+id
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: opts.Prefix, ttl: opts.TTL}
}

// NewRedisStoreFromURL dials redis://[user:pass@]host:port/db and pings it
func NewRedisStoreFromURL(ctx context.Context, url string, opts RedisOptions) (*RedisStore, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("memory: invalid redis url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("memory: redis ping: %w", err)
	}
	return NewRedisStore(client, opts), nil
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

// Load returns the history, empty when the key is missing
func (s *RedisStore) Load(ctx context.Context, id string) ([]llm.Message, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return s.get(ctx, s.client, id)
}

// Save replaces the history and refreshes the TTL
func (s *RedisStore) Save(ctx context.Context, id string, messages []llm.Message) error {
	if err := checkID(id); err != nil {
		return err
	}
	data, err := encode(id, messages)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("memory: redis set %s: %w", id, err)
	}
	return nil
}

// Update applies fn inside a WATCH transaction, retrying when the key
// changes underneath it.
func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) error {
	if err := checkID(id); err != nil {
		return err
	}
	key := s.key(id)
	txf := func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		data, err := encode(id, next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}
	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("memory: update %s: too much contention", id)
}

// Delete removes the key
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	return s.client.Del(ctx, s.key(id)).Err()
}

// Close closes the underlying client
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) get(ctx context.Context, c getter, id string) ([]llm.Message, error) {
	data, err := c.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: redis get %s: %w", id, err)
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("memory: decode %s: %w", id, err)
	}
	return h.Messages, nil
}

func encode(id string, messages []llm.Message) ([]byte, error) {
	if messages == nil {
		messages = []llm.Message{}
	}
	return json.Marshal(History{ID: id, Messages: messages, UpdatedAt: time.Now().UTC()})
}

var _ Store = (*RedisStore)(nil)
