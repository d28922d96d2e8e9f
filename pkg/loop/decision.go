// Copyright 2025 Kadir Pekel
//
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

package loop

import (
	"fmt"

	"github.com/kestrelrun/agentloop/pkg/message"
)

// Configuration bounds a run: iteration and failure budgets, and the set
// of tool names the loop is allowed to see.
type Configuration struct {
	MaxIterations               int
	MaxConsecutiveFailures      int
	MaxConsecutiveFunctionCalls int // 0 disables the per-tool circuit breaker
	TerminateOnUnknownCalls     bool
	AvailableTools              map[string]struct{}
}

// DecisionKind is the 3-way outcome of the Decision Engine.
type DecisionKind string

const (
	DecisionCallLLM    DecisionKind = "call_llm"
	DecisionComplete   DecisionKind = "complete"
	DecisionTerminate  DecisionKind = "terminate"
)

// Decision is the pure output of Decide: what the driver should do next.
type Decision struct {
	Kind          DecisionKind
	FinalResponse *message.Message
	Reason        string
}

// Decide is the pure Decision Engine: given the current state and the
// model's last response, it decides whether to loop again, deliver a
// final response, or terminate the run. It never mutates state and never
// performs I/O.
func Decide(state *State, lastResponse *message.Message, cfg Configuration) Decision {
	if state.IsTerminated {
		return Decision{Kind: DecisionTerminate, Reason: state.TerminationReason}
	}

	if cfg.MaxIterations > 0 && state.Iteration >= cfg.MaxIterations {
		return Decision{Kind: DecisionTerminate, Reason: "max iterations reached"}
	}

	if cfg.MaxConsecutiveFailures > 0 && state.ConsecutiveFailures >= cfg.MaxConsecutiveFailures {
		return Decision{Kind: DecisionTerminate, Reason: "max consecutive failures reached"}
	}

	if cfg.MaxConsecutiveFunctionCalls > 0 {
		for name, count := range state.ConsecutiveCountPerTool {
			if count >= cfg.MaxConsecutiveFunctionCalls {
				return Decision{Kind: DecisionTerminate, Reason: fmt.Sprintf("circuit breaker tripped for tool %q", name)}
			}
		}
	}

	if lastResponse == nil {
		return Decision{Kind: DecisionCallLLM}
	}

	calls := message.FunctionCalls(lastResponse)
	if len(calls) == 0 {
		return Decision{Kind: DecisionComplete, FinalResponse: lastResponse}
	}

	if cfg.TerminateOnUnknownCalls && cfg.AvailableTools != nil {
		for _, c := range calls {
			if _, ok := cfg.AvailableTools[c.Name]; !ok {
				return Decision{Kind: DecisionTerminate, Reason: fmt.Sprintf("unknown function %q requested", c.Name)}
			}
		}
	}

	return Decision{Kind: DecisionCallLLM}
}
