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

// Package prompt renders f-string style templates. Placeholders are
// {name}; {{ and }} produce literal braces. Input variables are inferred
// from the text and may be pre-filled with partials.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSyntax wraps template parse failures
var ErrSyntax = errors.New("prompt: invalid template")

// MissingVariableError lists variables with no value at format time
type MissingVariableError struct {
	Names []string
}

func (e *MissingVariableError) Error() string {
	return "prompt: missing variables: " + strings.Join(e.Names, ", ")
}

type segment struct {
	text     string
	variable bool
}

// Template is a parsed prompt. It is immutable and safe for concurrent use.
type Template struct {
	source   string
	segments []segment
	vars     []string
	partials map[string]string
}

// New parses text
func New(text string) (*Template, error) {
	segments, err := parse(text)
	if err != nil {
		return nil, err
	}
	t := &Template{source: text, segments: segments}
	seen := make(map[string]bool)
	for _, s := range segments {
		if s.variable && !seen[s.text] {
			seen[s.text] = true
			t.vars = append(t.vars, s.text)
		}
	}
	return t, nil
}

// Must is New that panics on error, for package-level templates
func Must(text string) *Template {
	t, err := New(text)
	if err != nil {
		panic(err)
	}
	return t
}

// Source returns the unparsed text
func (t *Template) Source() string { return t.source }

// InputVariables returns the variables still needed, in order of first
// appearance.
func (t *Template) InputVariables() []string {
	out := make([]string, 0, len(t.vars))
	for _, v := range t.vars {
		if _, ok := t.partials[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// Partial returns a copy with some variables fixed
func (t *Template) Partial(values map[string]interface{}) *Template {
	cp := *t
	cp.partials = make(map[string]string, len(t.partials)+len(values))
	for k, v := range t.partials {
		cp.partials[k] = v
	}
	for k, v := range values {
		cp.partials[k] = stringify(v)
	}
	return &cp
}

// Format substitutes values. Extra values are ignored; every variable
// without a value or a partial is reported in one MissingVariableError.
func (t *Template) Format(values map[string]interface{}) (string, error) {
	var missing []string
	for _, v := range t.vars {
		if _, ok := values[v]; ok {
			continue
		}
		if _, ok := t.partials[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &MissingVariableError{Names: missing}
	}

	var b strings.Builder
	for _, s := range t.segments {
		if !s.variable {
			b.WriteString(s.text)
			continue
		}
		if v, ok := values[s.text]; ok {
			b.WriteString(stringify(v))
		} else {
			b.WriteString(t.partials[s.text])
		}
	}
	return b.String(), nil
}

func parse(text string) ([]segment, error) {
	var (
		segments []segment
		lit      strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			segments = append(segments, segment{text: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(text); i++ {
		switch c := text[i]; c {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed '{' at offset %d", ErrSyntax, i)
			}
			name := strings.TrimSpace(text[i+1 : i+1+end])
			if !validName(name) {
				return nil, fmt.Errorf("%w: bad variable name %q at offset %d", ErrSyntax, name, i)
			}
			flush()
			segments = append(segments, segment{text: name, variable: true})
			i += end + 1
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("%w: single '}' at offset %d", ErrSyntax, i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return segments, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		return strings.Join(x, "\n")
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
