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
	"fmt"
	"strings"
	"unicode/utf8"
)

// Splitter defaults
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators go from paragraphs down to single characters
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveSplitter cuts text on the first separator that occurs in it and
// recurses with finer separators into pieces still over ChunkSize. Pieces
// are then merged back up to ChunkSize with ChunkOverlap runes carried
// between neighbours. Sizes are counted in runes.
type RecursiveSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// NewRecursiveSplitter validates sizes. Zero values take the defaults.
func NewRecursiveSplitter(chunkSize, chunkOverlap int) (*RecursiveSplitter, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap == 0 && chunkSize > DefaultChunkOverlap {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkSize < 0 || chunkOverlap < 0 {
		return nil, fmt.Errorf("retrieval: chunk sizes must be positive")
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("retrieval: chunk overlap %d must be smaller than chunk size %d", chunkOverlap, chunkSize)
	}
	return &RecursiveSplitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap, Separators: DefaultSeparators}, nil
}

// SplitText returns the chunks of text, trimmed and non-empty
func (s *RecursiveSplitter) SplitText(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

// SplitDocuments splits every document, copying metadata onto each chunk
// with a "chunk" index.
func (s *RecursiveSplitter) SplitDocuments(docs []Document) []Document {
	var out []Document
	for _, d := range docs {
		for i, chunk := range s.SplitText(d.PageContent) {
			meta := cloneMetadata(d.Metadata)
			if meta == nil {
				meta = make(map[string]interface{})
			}
			meta["chunk"] = i
			out = append(out, Document{PageContent: chunk, Metadata: meta})
		}
	}
	return out
}

func (s *RecursiveSplitter) split(text string, seps []string) []string {
	sep, rest := seps[len(seps)-1], []string(nil)
	for i, candidate := range seps {
		if candidate == "" || strings.Contains(text, candidate) {
			sep, rest = candidate, seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
	} else {
		pieces = strings.Split(text, sep)
	}

	var (
		final []string
		good  []string
	)
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if runeLen(p) <= s.ChunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, p)
		} else {
			final = append(final, s.split(p, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good, sep)...)
	}
	return final
}

// merge joins pieces into chunks no longer than ChunkSize, starting each
// new chunk with trailing pieces of the last one up to ChunkOverlap.
func (s *RecursiveSplitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		chunks  []string
		current []string
		total   int
	)
	emit := func() {
		if chunk := strings.TrimSpace(strings.Join(current, sep)); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	for _, p := range pieces {
		n := runeLen(p)
		joined := 0
		if len(current) > 0 {
			joined = sepLen
		}
		if total+joined+n > s.ChunkSize && len(current) > 0 {
			emit()
			for len(current) > 0 && (total > s.ChunkOverlap || (total+sepLen+n > s.ChunkSize && total > 0)) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, p)
		total += n
	}
	if len(current) > 0 {
		emit()
	}
	return chunks
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
