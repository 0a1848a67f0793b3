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

// Package retrieval splits documents into chunks, embeds them into a
// vector store and retrieves the closest chunks for a query.
package retrieval

// Document is a chunk of text with free-form metadata
type Document struct {
	PageContent string                 `json:"page_content" yaml:"page_content"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata"`
	// Score is the similarity to the query when returned by a search
	Score float32 `json:"score,omitempty" yaml:"score,omitempty"`
}

func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
