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

/*
Package usage records connector calls, LLM requests and chain runs and
ships them to an external logging endpoint without blocking callers.

# Events

Every recorded unit of work is an Event. Producers fill in what they know
and hand it to a Recorder:

	rec.Report(usage.Event{
	    Type:             usage.TypeLLMRequest,
	    Provider:         "openai",
	    Model:            "gpt-4o-mini",
	    PromptTokens:     150,
	    CompletionTokens: 42,
	})

The Reporter queues events and a background worker batches them to a
Sink (HTTPSink, SQLSink or LogSink). Report never waits on the sink: when
the queue is full the event is dropped and counted.

# Cost

Prices are kept in micro-USD per 1K tokens to stay in integer math:

	micros := usage.CalculateCost("openai", "gpt-4o-2024-08-06", 1000, 500)
	fmt.Println(usage.FormatCost(micros))

Dated model names match their family by longest prefix.
*/
package usage
