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
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kestrelrun/agentloop/pkg/message"
	"github.com/kestrelrun/agentloop/pkg/tool"
)

// failurePrefixes are the case-insensitive markers the processor treats as
// indicating a function call failed even though the tool itself returned
// no Go error, following the teacher's formatToolResult convention of
// scanning string results for an error prefix.
var failurePrefixes = []string{"error:", "failed:"}

// failurePhrases are additionally scanned anywhere in the result, not just
// as a prefix, covering the upstream-provider failure modes a tool often
// surfaces inline in an otherwise-successful-looking string result.
var failurePhrases = []string{
	"exception occurred",
	"unhandled exception",
	"exception was thrown",
	"rate limit exceeded",
	"rate limited",
	"quota exceeded",
	"quota reached",
	"timeout",
}

func isFailureResult(result any) (bool, string) {
	s, ok := result.(string)
	if !ok {
		return false, ""
	}
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, p := range failurePrefixes {
		if strings.HasPrefix(lower, p) {
			return true, s
		}
	}
	for _, p := range failurePhrases {
		if strings.Contains(lower, p) {
			return true, s
		}
	}
	return false, ""
}

// FunctionRequest is one function call extracted from a model response.
type FunctionRequest struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// FunctionOutcome is the result of executing (or denying) one
// FunctionRequest.
type FunctionOutcome struct {
	CallID       string
	Name         string
	Success      bool
	Denied       bool
	DenyReason   string
	Result       any
	Err          error
	IsContainer  bool
	ContainerKind string // "plugin" | "skill" | ""
	ContainerName string
	SkillInstructions string
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Registry             tool.Registry
	MaxParallelFunctions int
	Middleware           []Middleware[*FunctionContext]
	Permissions          *PermissionManager
	Retry                RetryConfig
	Logger               *slog.Logger
}

// Processor is the Function-Call Processor: it resolves each requested
// function call to a tool, gates it behind the Permission Manager when
// required, routes single calls sequentially and multiple calls through
// a semaphore-bounded parallel path, and assembles the resulting
// Message(role=Tool, ...) for the next turn.
type Processor struct {
	cfg ProcessorConfig
	sem *semaphore.Weighted
}

// NewProcessor builds a Processor from cfg, defaulting MaxParallelFunctions
// to 4x NumCPU the way the teacher's flow.go bounds concurrent tool calls.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.MaxParallelFunctions <= 0 {
		cfg.MaxParallelFunctions = 4 * runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.MaxParallelFunctions))}
}

// ProcessOutcome is everything the driver needs after a batch of function
// calls has been resolved.
type ProcessOutcome struct {
	// ResultMessage carries every function result, container activations
	// included; it is the complete record of what happened this call.
	ResultMessage *message.Message

	// PersistedResultMessage is ResultMessage with container-activation
	// results (plugin/skill expansions) stripped out. This is what the
	// driver writes to turn history and the durable Thread: a container
	// activation is an implementation detail of this run and must never
	// survive into persisted conversation history.
	PersistedResultMessage *message.Message

	// ContainerResultMessage carries only the container-activation
	// results, nil if none occurred. The driver folds this into the
	// current turn's in-memory context only, so the model sees the
	// expansion immediately without it being written anywhere durable.
	ContainerResultMessage *message.Message

	Outcomes          []FunctionOutcome
	PluginExpansions  []string
	SkillExpansions   []string
	SkillInstructions map[string]string
}

// Execute resolves and runs requests, returning the assembled tool-result
// message plus bookkeeping the driver folds back into State.
func (p *Processor) Execute(ctx context.Context, requests []FunctionRequest, coord *Coordinator) *ProcessOutcome {
	outcomes := make([]FunctionOutcome, len(requests))

	run := func(i int) {
		outcomes[i] = p.runOne(ctx, requests[i], coord)
	}

	if len(requests) <= 1 {
		for i := range requests {
			run(i)
		}
	} else {
		var wg sync.WaitGroup
		for i := range requests {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := p.sem.Acquire(ctx, 1); err != nil {
					outcomes[i] = FunctionOutcome{
						CallID: requests[i].CallID,
						Name:   requests[i].Name,
						Err:    err,
					}
					return
				}
				defer p.sem.Release(1)
				run(i)
			}(i)
		}
		wg.Wait()
	}

	return p.assemble(outcomes)
}

func (p *Processor) runOne(ctx context.Context, req FunctionRequest, coord *Coordinator) FunctionOutcome {
	t, ok := p.cfg.Registry.Lookup(req.Name)
	if !ok {
		return FunctionOutcome{CallID: req.CallID, Name: req.Name, Success: false, Result: "error: unknown function " + req.Name}
	}
	meta := t.Metadata()

	if meta.RequiresPermission {
		if p.cfg.Permissions == nil {
			return FunctionOutcome{CallID: req.CallID, Name: req.Name, Denied: true, DenyReason: "no permission middleware configured"}
		}
		result := p.cfg.Permissions.CheckPermission(ctx, PermissionRequest{
			CallID:       req.CallID,
			FunctionName: req.Name,
			Arguments:    req.Arguments,
		}, coord)
		if !result.Approved {
			if coord != nil {
				coord.Emit(Event{Kind: KindToolCallDenied, Time: time.Now(), CallID: req.CallID, FunctionName: req.Name, Reason: result.Reason})
			}
			return FunctionOutcome{CallID: req.CallID, Name: req.Name, Denied: true, DenyReason: result.Reason}
		}
	}

	if coord != nil {
		coord.Emit(Event{Kind: KindToolCallStarted, Time: time.Now(), CallID: req.CallID, FunctionName: req.Name})
	}

	fctx := &FunctionContext{CallID: req.CallID, FunctionName: req.Name, Arguments: req.Arguments}
	terminal := func(ctx context.Context, fc *FunctionContext) error {
		result, err := Execute(ctx, p.cfg.Retry, func(ctx context.Context) (any, error) {
			return t.Invoke(ctx, fc.Arguments)
		})
		fc.Result = result
		fc.Err = err
		return nil
	}
	handler := Chain(p.cfg.Middleware, terminal)
	_ = handler(ctx, fctx)

	outcome := FunctionOutcome{
		CallID: req.CallID,
		Name:   req.Name,
		Result: fctx.Result,
		Err:    fctx.Err,
	}
	if meta.IsContainer {
		outcome.IsContainer = true
		outcome.ContainerKind = "plugin"
		outcome.ContainerName = meta.ContainerName
	} else if meta.IsSkill {
		outcome.IsContainer = true
		outcome.ContainerKind = "skill"
		outcome.ContainerName = meta.ContainerName
		outcome.SkillInstructions = meta.SkillInstructions
	}

	switch {
	case fctx.Err != nil:
		outcome.Success = false
		if coord != nil {
			coord.Emit(Event{Kind: KindToolCallFailed, Time: time.Now(), CallID: req.CallID, FunctionName: req.Name, Reason: fctx.Err.Error()})
		}
	default:
		if failed, reason := isFailureResult(fctx.Result); failed {
			outcome.Success = false
			outcome.Result = reason
			if coord != nil {
				coord.Emit(Event{Kind: KindToolCallFailed, Time: time.Now(), CallID: req.CallID, FunctionName: req.Name, Reason: reason})
			}
		} else {
			outcome.Success = true
			if coord != nil {
				coord.Emit(Event{Kind: KindToolCallCompleted, Time: time.Now(), CallID: req.CallID, FunctionName: req.Name})
			}
		}
	}
	return outcome
}

func (p *Processor) assemble(outcomes []FunctionOutcome) *ProcessOutcome {
	msg := message.New(message.RoleTool)
	persisted := message.New(message.RoleTool)
	container := message.New(message.RoleTool)
	var errorTexts, containerErrorTexts []string
	out := &ProcessOutcome{SkillInstructions: map[string]string{}}

	for _, o := range outcomes {
		exception := ""
		result := o.Result
		switch {
		case o.Denied:
			exception = "permission denied: " + o.DenyReason
			result = nil
		case o.Err != nil:
			exception = o.Err.Error()
			result = nil
		case !o.Success:
			exception, _ = result.(string)
			result = nil
		}

		part := message.FunctionResult(o.CallID, o.Name, result, exception)
		msg.Parts = append(msg.Parts, part)
		if o.IsContainer {
			container.Parts = append(container.Parts, part)
			if exception != "" {
				containerErrorTexts = append(containerErrorTexts, "error: "+o.Name+": "+exception)
			}
		} else {
			persisted.Parts = append(persisted.Parts, part)
			if exception != "" {
				errorTexts = append(errorTexts, "error: "+o.Name+": "+exception)
			}
		}

		if o.IsContainer && (o.Success || o.Denied == false) {
			switch o.ContainerKind {
			case "plugin":
				out.PluginExpansions = append(out.PluginExpansions, o.ContainerName)
			case "skill":
				out.SkillExpansions = append(out.SkillExpansions, o.ContainerName)
				out.SkillInstructions[o.ContainerName] = o.SkillInstructions
			}
		}
		out.Outcomes = append(out.Outcomes, o)
	}

	for _, t := range errorTexts {
		textPart := message.Text(t)
		msg.Parts = append(msg.Parts, textPart)
		persisted.Parts = append(persisted.Parts, textPart)
	}
	for _, t := range containerErrorTexts {
		textPart := message.Text(t)
		msg.Parts = append(msg.Parts, textPart)
		container.Parts = append(container.Parts, textPart)
	}

	out.ResultMessage = msg
	out.PersistedResultMessage = persisted
	if len(container.Parts) > 0 {
		out.ContainerResultMessage = container
	}
	return out
}
