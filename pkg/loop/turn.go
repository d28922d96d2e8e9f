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
	"fmt"
	"time"

	"github.com/kestrelrun/agentloop/pkg/message"
	"github.com/kestrelrun/agentloop/pkg/model"
)

// PreparedTurn is the output of TurnPreparer.Prepare: everything the
// driver needs to make the next model call.
type PreparedTurn struct {
	MessagesForLLM   []*message.Message
	Options          *model.Options
	ActiveReduction  *Reduction
	NewReduction     *Reduction
	ReductionCacheHit bool
}

// TurnPreparer assembles the message list and options sent to the model
// for a single iteration: it applies any active history reduction,
// triggers a new reduction when the threshold is crossed, merges
// caller-supplied options over the agent's defaults, and runs the Prompt
// middleware chain last so it sees the fully assembled context.
type TurnPreparer struct {
	Instructions       string
	Reducer            Reducer
	TargetMessageCount int
	ReductionThreshold int
	Middleware         []Middleware[*PromptContext]
	DefaultOptions     *model.Options
}

// Prepare runs the six-step turn preparation pipeline: gather full
// history, decide whether the cached reduction is still valid, reduce if
// the threshold is crossed and no valid cache exists, apply the
// reduction (or not) to produce the final message list, merge options,
// and run prompt middleware.
func (p *TurnPreparer) Prepare(ctx context.Context, agentName string, fullHistory []*message.Message, active *Reduction, callerOpts *model.Options) (*PreparedTurn, error) {
	out := &PreparedTurn{ActiveReduction: active}

	reduction := active
	if reduction != nil && !reduction.IsValidFor(len(fullHistory)) {
		reduction = nil
	}
	if reduction != nil {
		if err := reduction.VerifyIntegrity(fullHistory); err != nil {
			reduction = nil
		}
	}

	if reduction != nil {
		out.ReductionCacheHit = true
	} else if shouldReduce(len(fullHistory), p.TargetMessageCount, p.ReductionThreshold) {
		nr, err := newReduction(ctx, p.Reducer, fullHistory, p.TargetMessageCount, p.ReductionThreshold)
		if err != nil {
			return nil, fmt.Errorf("loop: prepare turn: %w", err)
		}
		reduction = nr
		out.NewReduction = nr
	}

	messages, err := reduction.ApplyToMessages(fullHistory)
	if err != nil {
		return nil, fmt.Errorf("loop: apply reduction: %w", err)
	}
	out.ActiveReduction = reduction

	opts := model.MergeOptions(p.DefaultOptions, callerOpts)

	pctx := &PromptContext{
		AgentName:      agentName,
		Instructions:   strPtr(p.Instructions),
		MessagesForLLM: messages,
		Options:        opts,
	}
	terminal := func(ctx context.Context, pc *PromptContext) error { return nil }
	handler := Chain(p.Middleware, terminal)
	if err := handler(ctx, pctx); err != nil {
		return nil, fmt.Errorf("loop: prompt middleware: %w", err)
	}

	out.MessagesForLLM = pctx.MessagesForLLM
	out.Options = pctx.Options
	if pctx.Instructions != nil {
		out.Options = out.Options.Clone()
		out.Options.Instructions = *pctx.Instructions
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

// timeoutExceeded is a small helper the driver uses to bound an overall
// message turn by MaxTurnDuration.
func timeoutExceeded(start time.Time, max time.Duration) bool {
	if max <= 0 {
		return false
	}
	return time.Since(start) > max
}
