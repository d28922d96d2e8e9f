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
	"context"

	"github.com/kestrelrun/agentloop/pkg/message"
	"github.com/kestrelrun/agentloop/pkg/model"
)

// Next invokes the remainder of a middleware chain.
type Next[C any] func(ctx context.Context, mctx C) error

// Middleware wraps a stage of a pipeline; it must call next to continue
// the chain or return early (with or without error) to short-circuit it.
type Middleware[C any] func(ctx context.Context, mctx C, next Next[C]) error

// Chain composes middlewares in reverse-wrap order so that mws[0] is the
// outermost layer (runs first on the way in, last on the way out) and
// terminal is invoked once every middleware has called next.
func Chain[C any](mws []Middleware[C], terminal Next[C]) Next[C] {
	h := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		next := h
		h = func(ctx context.Context, mctx C) error {
			return mw(ctx, mctx, next)
		}
	}
	return h
}

// PromptContext is mutated by Prompt middleware during turn preparation:
// it can adjust instructions, inject additional messages, or override
// model options before the call is made.
type PromptContext struct {
	AgentName      string
	Instructions   *string
	MessagesForLLM []*message.Message
	Options        *model.Options
}

// IterationContext surrounds a single call-LLM iteration.
type IterationContext struct {
	RunID     string
	Iteration int
	State     *State
}

// FunctionContext surrounds a single function invocation.
type FunctionContext struct {
	CallID       string
	FunctionName string
	Arguments    map[string]any
	Result       any
	Err          error
}

// PermissionContext surrounds a single permission check.
type PermissionContext struct {
	CallID       string
	FunctionName string
	Arguments    map[string]any
	Approved     bool
	Reason       string
}

// MessageTurnContext surrounds an entire message turn (all iterations
// spawned by one piece of caller input).
type MessageTurnContext struct {
	RunID         string
	MessageTurnID string
	InputMessages []*message.Message
}
