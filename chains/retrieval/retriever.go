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

import "context"

// DefaultK is how many documents a Retriever returns by default
const DefaultK = 4

// Retriever finds the documents relevant to a query
type Retriever struct {
	Store VectorStore
	K     int
	// ScoreThreshold drops documents scoring below it when positive
	ScoreThreshold float32
}

// NewRetriever creates a retriever returning k documents
func NewRetriever(store VectorStore, k int) *Retriever {
	return &Retriever{Store: store, K: k}
}

// GetRelevantDocuments searches the store and applies the threshold
func (r *Retriever) GetRelevantDocuments(ctx context.Context, query string) ([]Document, error) {
	k := r.K
	if k <= 0 {
		k = DefaultK
	}
	docs, err := r.Store.SimilaritySearch(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if r.ScoreThreshold <= 0 {
		return docs, nil
	}
	kept := docs[:0]
	for _, d := range docs {
		if d.Score >= r.ScoreThreshold {
			kept = append(kept, d)
		}
	}
	return kept, nil
}
