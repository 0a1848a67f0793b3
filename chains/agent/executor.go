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

// Package agent runs a zero-shot ReAct loop: the model reasons in text,
// names a tool and its input, reads the observation and repeats until it
// gives a final answer or the iteration limit is reached.
package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"relayhub/platform/chains/llm"
	"relayhub/platform/chains/prompt"
	"relayhub/platform/chains/tools"
)

// DefaultMaxIterations bounds the number of tool calls per run
const DefaultMaxIterations = 5

// StoppedOutput is returned as the answer when the iteration limit hits
const StoppedOutput = "Agent stopped due to iteration limit."

// ErrParse is returned by Parse for output with neither an action nor a
// final answer.
var ErrParse = errors.New("agent: could not parse model output")

// DefaultPrompt is the ReAct prompt. It takes tools, tool_names, input and
// agent_scratchpad.
var DefaultPrompt = prompt.Must(`Answer the following questions as best you can. You have access to the following tools:

{tools}

Use the following format:

Question: the input question you must answer
Thought: you should always think about what to do
Action: the action to take, should be one of [{tool_names}]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Answer: the final answer to the original input question

Begin!

Question: {input}
Thought:{agent_scratchpad}`)

var stopSequences = []string{"\nObservation:"}

const finalAnswerPrefix = "Final Answer:"

var actionPattern = regexp.MustCompile(`(?s)Action\s*\d*\s*:(.*?)\n\s*Action\s*\d*\s*Input\s*\d*\s*:[ \t]*(.*)`)

// Action is a parsed tool invocation
type Action struct {
	Tool      string `json:"tool"`
	ToolInput string `json:"tool_input"`
	Log       string `json:"log"`
}

// Step pairs an action with what the tool returned
type Step struct {
	Action      Action `json:"action"`
	Observation string `json:"observation"`
}

// Result is the outcome of a run
type Result struct {
	Output  string `json:"output"`
	Steps   []Step `json:"intermediate_steps"`
	Stopped bool   `json:"stopped,omitempty"`
}

// Executor drives the loop
type Executor struct {
	Model         llm.Model
	Tools         []tools.Tool
	MaxIterations int
	Options       llm.CallOptions
	Prompt        *prompt.Template
	Log           *zap.SugaredLogger
}

// NewExecutor creates an executor with the default prompt and limit
func NewExecutor(model llm.Model, ts []tools.Tool) *Executor {
	return &Executor{Model: model, Tools: ts, MaxIterations: DefaultMaxIterations}
}

// Run answers input
func (e *Executor) Run(ctx context.Context, input string) (*Result, error) {
	byName := make(map[string]tools.Tool, len(e.Tools))
	names := make([]string, 0, len(e.Tools))
	var descriptions []string
	for _, t := range e.Tools {
		if _, dup := byName[t.Name()]; dup {
			return nil, fmt.Errorf("agent: duplicate tool %q", t.Name())
		}
		byName[t.Name()] = t
		names = append(names, t.Name())
		descriptions = append(descriptions, t.Name()+": "+t.Description())
	}

	tmpl := e.Prompt
	if tmpl == nil {
		tmpl = DefaultPrompt
	}
	tmpl = tmpl.Partial(map[string]interface{}{
		"tools":      strings.Join(descriptions, "\n"),
		"tool_names": strings.Join(names, ", "),
	})
	opts := e.Options.Merge(llm.CallOptions{Stop: stopSequences})

	max := e.MaxIterations
	if max <= 0 {
		max = DefaultMaxIterations
	}
	res := &Result{}
	for i := 0; i < max; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := tmpl.Format(map[string]interface{}{"input": input, "agent_scratchpad": scratchpad(res.Steps)})
		if err != nil {
			return nil, err
		}
		gen, err := e.Model.Generate(ctx, []llm.Message{llm.User(text)}, opts)
		if err != nil {
			return nil, err
		}

		act, final, err := Parse(gen.Content)
		switch {
		case err != nil:
			res.Steps = append(res.Steps, Step{
				Action:      Action{Tool: "_exception", ToolInput: gen.Content, Log: gen.Content},
				Observation: "Invalid Format: Missing 'Action:' after 'Thought:' or a 'Final Answer:'",
			})
			continue
		case act == nil:
			res.Output = final
			return res, nil
		}

		var obs string
		tool, ok := byName[act.Tool]
		if !ok {
			sorted := append([]string(nil), names...)
			sort.Strings(sorted)
			obs = fmt.Sprintf("%s is not a valid tool, try one of [%s].", act.Tool, strings.Join(sorted, ", "))
		} else {
			obs, err = tool.Call(ctx, act.ToolInput)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				obs = "Error: " + err.Error()
			}
		}
		if e.Log != nil {
			e.Log.Debugw("Agent step", "iteration", i, "tool", act.Tool, "ok", ok)
		}
		res.Steps = append(res.Steps, Step{Action: *act, Observation: obs})
	}
	res.Output = StoppedOutput
	res.Stopped = true
	return res, nil
}

// Parse reads one model turn. It returns either an action or the final
// answer. Text after a hallucinated "Observation:" is ignored.
func Parse(text string) (*Action, string, error) {
	if i := strings.Index(text, "\nObservation:"); i >= 0 {
		text = text[:i]
	}
	finalAt := strings.Index(text, finalAnswerPrefix)
	loc := actionPattern.FindStringSubmatchIndex(text)
	if finalAt >= 0 && (loc == nil || finalAt < loc[0]) {
		return nil, strings.TrimSpace(text[finalAt+len(finalAnswerPrefix):]), nil
	}
	if loc == nil {
		return nil, "", ErrParse
	}
	tool := strings.TrimSpace(text[loc[2]:loc[3]])
	input := strings.TrimSpace(text[loc[4]:loc[5]])
	input = strings.Trim(input, "\"")
	if tool == "" {
		return nil, "", ErrParse
	}
	return &Action{Tool: tool, ToolInput: input, Log: strings.TrimRight(text, " \n")}, "", nil
}

func scratchpad(steps []Step) string {
	var b strings.Builder
	for _, s := range steps {
		b.WriteString(s.Action.Log)
		b.WriteString("\nObservation: ")
		b.WriteString(s.Observation)
		b.WriteString("\nThought:")
	}
	return b.String()
}
