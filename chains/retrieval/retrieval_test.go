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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayhub/platform/chains/llm"
)

func TestSplitText(t *testing.T) {
	tests := []struct {
		name     string
		splitter RecursiveSplitter
		text     string
		want     []string
	}{
		{
			name:     "words with overlap",
			splitter: RecursiveSplitter{ChunkSize: 7, ChunkOverlap: 3},
			text:     "aaa bbb ccc ddd",
			want:     []string{"aaa bbb", "bbb ccc", "ccc ddd"},
		},
		{
			name:     "paragraphs",
			splitter: RecursiveSplitter{ChunkSize: 12},
			text:     "para one.\n\npara two.",
			want:     []string{"para one.", "para two."},
		},
		{
			name:     "falls back to characters",
			splitter: RecursiveSplitter{ChunkSize: 4, ChunkOverlap: 1},
			text:     "abcdefghij",
			want:     []string{"abcd", "defg", "ghij"},
		},
		{
			name:     "fits in one chunk",
			splitter: RecursiveSplitter{ChunkSize: 100},
			text:     "  short text \n",
			want:     []string{"short text"},
		},
		{
			name:     "counts runes",
			splitter: RecursiveSplitter{ChunkSize: 3},
			text:     "héé ñññ",
			want:     []string{"héé", "ñññ"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.splitter.SplitText(tt.text))
		})
	}
}

func TestSplitterChunksRespectSize(t *testing.T) {
	s, err := NewRecursiveSplitter(50, 10)
	require.NoError(t, err)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	chunks := s.SplitText(text)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 50)
	}
}

func TestNewRecursiveSplitterValidates(t *testing.T) {
	_, err := NewRecursiveSplitter(10, 10)
	assert.Error(t, err)
	_, err = NewRecursiveSplitter(-1, 0)
	assert.Error(t, err)
	s, err := NewRecursiveSplitter(0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, s.ChunkSize)
	assert.Equal(t, DefaultChunkOverlap, s.ChunkOverlap)
}

func TestSplitDocumentsCopiesMetadata(t *testing.T) {
	s := RecursiveSplitter{ChunkSize: 5}
	src := map[string]interface{}{"source": "a.txt"}
	docs := s.SplitDocuments([]Document{{PageContent: "one two", Metadata: src}})
	require.Len(t, docs, 2)
	assert.Equal(t, "a.txt", docs[1].Metadata["source"])
	assert.Equal(t, 1, docs[1].Metadata["chunk"])
	_, touched := src["chunk"]
	assert.False(t, touched)
}

func newStore(t *testing.T) *MemoryVectorStore {
	store := NewMemoryVectorStore(llm.FakeEmbedder{})
	require.NoError(t, store.AddDocuments(context.Background(), []Document{
		{PageContent: "Invoices are due within thirty days", Metadata: map[string]interface{}{"id": 1}},
		{PageContent: "The office is closed on public holidays", Metadata: map[string]interface{}{"id": 2}},
		{PageContent: "Late invoices incur a fee", Metadata: map[string]interface{}{"id": 3}},
	}))
	return store
}

func TestSimilaritySearch(t *testing.T) {
	store := newStore(t)
	assert.Equal(t, 3, store.Len())
	docs, err := store.SimilaritySearch(context.Background(), "when are invoices due", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, 1, docs[0].Metadata["id"])
	assert.GreaterOrEqual(t, docs[0].Score, docs[1].Score)
}

func TestRetrieverThreshold(t *testing.T) {
	r := &Retriever{Store: newStore(t), K: 3, ScoreThreshold: 0.99}
	docs, err := r.GetRelevantDocuments(context.Background(), "The office is closed on public holidays")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 2, docs[0].Metadata["id"])

	r.ScoreThreshold = 0
	docs, err = r.GetRelevantDocuments(context.Background(), "anything")
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

type badEmbedder struct{ dims int }

func (b badEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if b.dims == 0 {
		return nil, errors.New("quota exceeded")
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, b.dims)
	}
	return out, nil
}

func TestVectorStoreErrors(t *testing.T) {
	ctx := context.Background()
	err := NewMemoryVectorStore(badEmbedder{}).AddDocuments(ctx, []Document{{PageContent: "x"}})
	assert.ErrorContains(t, err, "quota exceeded")

	store := NewMemoryVectorStore(llm.FakeEmbedder{Dimensions: 8})
	require.NoError(t, store.AddDocuments(ctx, []Document{{PageContent: "x"}}))
	store.embedder = badEmbedder{dims: 4}
	_, err = store.SimilaritySearch(ctx, "q", 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 1}))
}
