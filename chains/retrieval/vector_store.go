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

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"relayhub/platform/chains/llm"
)

// ErrDimensionMismatch is returned when an embedding has the wrong length
var ErrDimensionMismatch = errors.New("retrieval: embedding dimension mismatch")

// VectorStore indexes documents by embedding
type VectorStore interface {
	AddDocuments(ctx context.Context, docs []Document) error
	// SimilaritySearch returns up to k documents, best first, with Score set
	SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error)
}

type entry struct {
	doc    Document
	vector []float32
}

// MemoryVectorStore does a full cosine-similarity scan over its entries
type MemoryVectorStore struct {
	embedder llm.Embedder

	mu      sync.RWMutex
	entries []entry
	dims    int
}

// NewMemoryVectorStore creates an empty store
func NewMemoryVectorStore(embedder llm.Embedder) *MemoryVectorStore {
	return &MemoryVectorStore{embedder: embedder}
}

// Len returns the number of indexed documents
func (s *MemoryVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// AddDocuments embeds and indexes docs
func (s *MemoryVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("retrieval: embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("retrieval: got %d embeddings for %d documents", len(vectors), len(docs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dims := s.dims
	for _, v := range vectors {
		if dims == 0 {
			dims = len(v)
		}
		if len(v) != dims {
			return fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, dims, len(v))
		}
	}
	s.dims = dims
	for i, d := range docs {
		s.entries = append(s.entries, entry{
			doc:    Document{PageContent: d.PageContent, Metadata: cloneMetadata(d.Metadata)},
			vector: vectors[i],
		})
	}
	return nil
}

// SimilaritySearch implements VectorStore
func (s *MemoryVectorStore) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		return nil, nil
	}
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("retrieval: got %d embeddings for the query", len(vectors))
	}
	q := vectors[0]

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dims != 0 && len(q) != s.dims {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, s.dims, len(q))
	}
	scored := make([]Document, 0, len(s.entries))
	for _, e := range s.entries {
		d := e.doc
		d.Metadata = cloneMetadata(e.doc.Metadata)
		d.Score = Cosine(q, e.vector)
		scored = append(scored, d)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Cosine returns the cosine similarity of a and b, zero when either is
// the zero vector or the lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ VectorStore = (*MemoryVectorStore)(nil)
