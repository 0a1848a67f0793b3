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

package chains

import (
	"context"
	"fmt"
	"strings"

	"relayhub/platform/chains/prompt"
	"relayhub/platform/chains/retrieval"
)

// RetrievalQA keys
const (
	DefaultQAInput     = "query"
	DefaultQAOutput    = "result"
	SourceDocumentsKey = "source_documents"
)

// DefaultQAPrompt takes context and question
var DefaultQAPrompt = prompt.Must(`Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

{context}

Question: {question}
Helpful Answer:`)

// RetrievalQA retrieves documents for the query, stuffs them into the
// prompt as context and asks the model.
type RetrievalQA struct {
	Retriever     *retrieval.Retriever
	LLM           *LLMChain
	InputKey      string
	OutputKey     string
	ReturnSources bool
	Separator     string
}

// NewRetrievalQA uses the default prompt when llmChain has none
func NewRetrievalQA(llmChain *LLMChain, r *retrieval.Retriever) *RetrievalQA {
	if llmChain.Prompt == nil && llmChain.Chat == nil {
		llmChain.Prompt = DefaultQAPrompt
	}
	return &RetrievalQA{Retriever: r, LLM: llmChain, InputKey: DefaultQAInput, OutputKey: DefaultQAOutput, Separator: "\n\n"}
}

// InputKeys is the query plus any extra prompt variables
func (q *RetrievalQA) InputKeys() []string {
	return append([]string{q.inputKey()}, without(q.LLM.InputKeys(), "context", "question", q.inputKey())...)
}

// OutputKeys implements Chain
func (q *RetrievalQA) OutputKeys() []string {
	if q.ReturnSources {
		return []string{q.outputKey(), SourceDocumentsKey}
	}
	return []string{q.outputKey()}
}

// Call implements Chain
func (q *RetrievalQA) Call(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	question := stringInput(inputs, q.inputKey())
	docs, err := q.Retriever.GetRelevantDocuments(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.PageContent
	}
	sep := q.Separator
	if sep == "" {
		sep = "\n\n"
	}

	values := make(map[string]interface{}, len(inputs)+2)
	for k, v := range inputs {
		values[k] = v
	}
	values["context"] = strings.Join(parts, sep)
	values["question"] = question
	answer, err := q.LLM.Predict(ctx, values)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{q.outputKey(): strings.TrimSpace(answer)}
	if q.ReturnSources {
		out[SourceDocumentsKey] = docs
	}
	return out, nil
}

func (q *RetrievalQA) inputKey() string {
	if q.InputKey == "" {
		return DefaultQAInput
	}
	return q.InputKey
}

func (q *RetrievalQA) outputKey() string {
	if q.OutputKey == "" {
		return DefaultQAOutput
	}
	return q.OutputKey
}

var _ Chain = (*RetrievalQA)(nil)
