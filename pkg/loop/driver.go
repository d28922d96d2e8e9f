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
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelrun/agentloop/pkg/checkpoint"
	"github.com/kestrelrun/agentloop/pkg/loop/errs"
	"github.com/kestrelrun/agentloop/pkg/message"
	"github.com/kestrelrun/agentloop/pkg/model"
)

// SpanRecorder is the thin tracing seam the driver calls through, kept
// independent of any specific tracing SDK so pkg/observability can wire
// OpenTelemetry behind it without the driver importing otel directly.
type SpanRecorder interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error))
}

// MetricsRecorder is the thin metrics seam, mirroring SpanRecorder.
type MetricsRecorder interface {
	IncCounter(name string, attrs map[string]any)
	ObserveDuration(name string, d time.Duration, attrs map[string]any)
}

type noopSpanRecorder struct{}

func (noopSpanRecorder) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(error) {}
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) IncCounter(name string, attrs map[string]any)                  {}
func (noopMetricsRecorder) ObserveDuration(name string, d time.Duration, attrs map[string]any) {}

// DriverConfig wires together every collaborator the Agentic Loop Driver
// needs.
type DriverConfig struct {
	Config              Configuration
	ChatClient          model.ChatClient
	Processor           *Processor
	TurnPreparer        *TurnPreparer
	Checkpointer        checkpoint.Checkpointer
	CheckpointFrequency checkpoint.Frequency
	MaxTurnDuration     time.Duration
	Dispatcher          *Dispatcher
	Tracer              SpanRecorder
	Metrics             MetricsRecorder
	Logger              *slog.Logger
}

// Driver is the imperative shell: it drives the Decision Engine,
// Turn Preparer, and Function-Call Processor through a full message
// turn, emitting events as it goes and checkpointing per the configured
// frequency.
type Driver struct {
	cfg DriverConfig
}

// NewDriver validates and constructs a Driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.ChatClient == nil {
		return nil, fmt.Errorf("%w: ChatClient is required", errs.ErrConfiguration)
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("%w: Processor is required", errs.ErrConfiguration)
	}
	if cfg.TurnPreparer == nil {
		return nil, fmt.Errorf("%w: TurnPreparer is required", errs.ErrConfiguration)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noopSpanRecorder{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetricsRecorder{}
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CheckpointFrequency == "" {
		cfg.CheckpointFrequency = checkpoint.Final
	}
	return &Driver{cfg: cfg}, nil
}

// Run drives one message turn to completion (or termination), resuming
// from a checkpoint when one exists for threadID. coord carries
// bidirectional human-in-the-loop traffic (permission requests/replies)
// in addition to receiving a copy of every narrative event the returned
// iterator yields.
func (d *Driver) Run(ctx context.Context, threadID string, thread Thread, coord *Coordinator, agentName string, input []*message.Message, callerOpts *model.Options) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		state, resumed, savedETag, err := d.loadOrCreateState(ctx, threadID, agentName, input)
		if err != nil {
			yield(Event{}, err)
			return
		}

		messageTurnID := uuid.NewString()
		turnCtx, endTurnSpan := d.cfg.Tracer.StartSpan(ctx, "agentloop.turn", map[string]any{"run_id": state.RunID})
		defer endTurnSpan(nil)
		start := time.Now()

		if !d.emit(coord, yield, Event{Kind: KindMessageTurnStarted, Time: time.Now(), RunID: state.RunID, MessageTurnID: messageTurnID}) {
			return
		}

		if !resumed {
			state = state.WithMessages(input)
			if err := thread.AppendMessages(turnCtx, input...); err != nil {
				yield(Event{}, fmt.Errorf("loop: append input messages: %w", err))
				return
			}
			state = state.AppendToTurnHistory(input...)
		}

		// containerContext accumulates container-activation (plugin/skill)
		// results across the iterations of this turn: visible to the model
		// on the very next call, but never written to thread or TurnHistory
		// so a crash or resume never replays them.
		var containerContext []*message.Message

		for !state.IsTerminated {
			if timeoutExceeded(start, d.cfg.MaxTurnDuration) {
				state = state.Terminate("max turn duration exceeded")
				break
			}

			iterState, iterErr, done := d.runIteration(turnCtx, threadID, thread, coord, agentName, messageTurnID, state, callerOpts, &containerContext, yield)
			state = iterState
			if iterErr != nil {
				yield(Event{}, iterErr)
				return
			}
			if err := d.checkpointIfDue(turnCtx, threadID, state, checkpoint.PerIteration, &savedETag); err != nil {
				d.cfg.Logger.Warn("checkpoint save failed", "thread_id", threadID, "err", err)
			}
			if done {
				break
			}
		}

		if state.IsTerminated {
			d.cfg.Metrics.IncCounter("agentloop.run.terminated", map[string]any{"reason": state.TerminationReason})
			d.emit(coord, yield, Event{Kind: KindRunTerminated, Time: time.Now(), RunID: state.RunID, Reason: state.TerminationReason})
		}

		if err := d.checkpointIfDue(turnCtx, threadID, state, checkpoint.Final, &savedETag); err != nil {
			d.cfg.Logger.Warn("final checkpoint save failed", "thread_id", threadID, "err", err)
		}
		if state.IsTerminated && state.TerminationReason == "" {
			if d.cfg.Checkpointer != nil {
				_ = d.cfg.Checkpointer.Clear(turnCtx, threadID)
			}
		}

		d.cfg.Metrics.ObserveDuration("agentloop.turn.duration", time.Since(start), nil)
		d.emit(coord, yield, Event{Kind: KindMessageTurnCompleted, Time: time.Now(), RunID: state.RunID, MessageTurnID: messageTurnID})
	}
}

// runIteration executes exactly one call-LLM-then-maybe-call-tools cycle
// and returns the updated state and whether the turn is finished
// (complete or terminated).
func (d *Driver) runIteration(ctx context.Context, threadID string, thread Thread, coord *Coordinator, agentName, messageTurnID string, state *State, callerOpts *model.Options, ephemeral *[]*message.Message, yield func(Event, error) bool) (*State, error, bool) {
	iterCtx, endSpan := d.cfg.Tracer.StartSpan(ctx, "agentloop.iteration", map[string]any{"iteration": state.Iteration})
	defer endSpan(nil)

	// KindIterationStarted reports the zero-based index of the iteration
	// about to run, so the first iteration of a turn is announced as 0;
	// NextIteration below then advances state.Iteration to the 1-based
	// count used everywhere else (budgets, circuit breaker bookkeeping).
	startingIteration := state.Iteration
	if !d.emit(coord, yield, Event{Kind: KindIterationStarted, Time: time.Now(), RunID: state.RunID, Iteration: startingIteration}) {
		return state, nil, true
	}
	state = state.NextIteration()

	history, err := thread.Messages(iterCtx)
	if err != nil {
		return state, fmt.Errorf("loop: read thread history: %w", err), true
	}
	// Container-activation results from earlier iterations of this turn are
	// visible to the model here but were never appended to thread, so they
	// must be merged back in for this call only.
	if len(*ephemeral) > 0 {
		history = append(append([]*message.Message(nil), history...), (*ephemeral)...)
	}

	prepared, err := d.cfg.TurnPreparer.Prepare(iterCtx, agentName, history, state.ActiveReduction, callerOpts)
	if err != nil {
		return state, fmt.Errorf("loop: prepare turn: %w", err), true
	}
	state = state.WithReduction(prepared.ActiveReduction)
	if prepared.NewReduction != nil {
		d.emit(coord, yield, Event{Kind: KindHistoryReduced, Time: time.Now(), RunID: state.RunID, Iteration: state.Iteration})
	} else if prepared.ReductionCacheHit {
		d.emit(coord, yield, Event{Kind: KindHistoryReductionHit, Time: time.Now(), RunID: state.RunID, Iteration: state.Iteration})
	}

	lastResponse, usage, err := d.streamResponse(iterCtx, coord, state, prepared, yield)
	if err != nil {
		state = state.WithFailure()
		return state, nil, false
	}
	state = state.AppendToTurnHistory(lastResponse)
	if err := thread.AppendMessages(iterCtx, lastResponse); err != nil {
		return state, fmt.Errorf("loop: append response: %w", err), true
	}
	if usage != nil {
		lastResponse.Parts = append(lastResponse.Parts, message.Usage(usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, usage.ThinkingTokens))
	}
	state.LastAssistantMessageID = lastResponse.ID

	decision := Decide(state, lastResponse, d.cfg.Config)
	switch decision.Kind {
	case DecisionComplete:
		state = state.WithSuccess()
		d.emit(coord, yield, Event{Kind: KindMessageFinal, Time: time.Now(), RunID: state.RunID, Text: message.TextContent(decision.FinalResponse)})
		return state, nil, true
	case DecisionTerminate:
		state = state.Terminate(decision.Reason)
		return state, nil, true
	}

	calls := message.FunctionCalls(lastResponse)
	requests := make([]FunctionRequest, 0, len(calls))
	for _, c := range calls {
		sig := FunctionSignature(c.Name, c.Args)
		projected := 1
		if state.LastSignaturePerTool[c.Name] == sig {
			projected = state.ConsecutiveCountPerTool[c.Name] + 1
		}
		if d.cfg.Config.MaxConsecutiveFunctionCalls > 0 && projected >= d.cfg.Config.MaxConsecutiveFunctionCalls {
			state = state.RecordToolCall(c.Name, sig)
			state = state.Terminate(fmt.Sprintf("circuit breaker tripped for tool %q", c.Name))
			d.emit(coord, yield, Event{Kind: KindCircuitBreakerTrip, Time: time.Now(), RunID: state.RunID, FunctionName: c.Name})
			d.emit(coord, yield, Event{Kind: KindTextDelta, Time: time.Now(), RunID: state.RunID, Text: fmt.Sprintf("Circuit breaker tripped for tool %q; stopping.", c.Name)})
			return state, nil, true
		}
		state = state.RecordToolCall(c.Name, sig)
		requests = append(requests, FunctionRequest{CallID: c.CallID, Name: c.Name, Arguments: c.Args})
		d.emit(coord, yield, Event{Kind: KindToolCallRequested, Time: time.Now(), RunID: state.RunID, CallID: c.CallID, FunctionName: c.Name})
	}

	outcome := d.cfg.Processor.Execute(iterCtx, requests, coord)
	if len(outcome.PersistedResultMessage.Parts) > 0 {
		state = state.AppendToTurnHistory(outcome.PersistedResultMessage)
		if err := thread.AppendMessages(iterCtx, outcome.PersistedResultMessage); err != nil {
			return state, fmt.Errorf("loop: append tool results: %w", err), true
		}
	}
	if outcome.ContainerResultMessage != nil {
		*ephemeral = append(*ephemeral, outcome.ContainerResultMessage)
	}

	anyFailed := false
	for _, o := range outcome.Outcomes {
		if o.Success {
			state = state.CompleteFunction(o.CallID)
		} else {
			anyFailed = true
		}
	}
	for _, p := range outcome.PluginExpansions {
		state = state.WithExpandedPlugin(p)
		d.emit(coord, yield, Event{Kind: KindPluginExpanded, Time: time.Now(), RunID: state.RunID, Data: map[string]any{"plugin": p}})
	}
	for _, s := range outcome.SkillExpansions {
		state = state.WithExpandedSkill(s, outcome.SkillInstructions[s])
		d.emit(coord, yield, Event{Kind: KindSkillExpanded, Time: time.Now(), RunID: state.RunID, Data: map[string]any{"skill": s}})
	}
	if anyFailed {
		state = state.WithFailure()
	} else {
		state = state.WithSuccess()
	}

	d.emit(coord, yield, Event{Kind: KindIterationCompleted, Time: time.Now(), RunID: state.RunID, Iteration: state.Iteration})
	return state, nil, false
}

func (d *Driver) streamResponse(ctx context.Context, coord *Coordinator, state *State, prepared *PreparedTurn, yield func(Event, error) bool) (*message.Message, *model.Usage, error) {
	resp := message.New(message.RoleAssistant)
	var usage *model.Usage

	for update, err := range d.cfg.ChatClient.Stream(ctx, prepared.MessagesForLLM, prepared.Options) {
		if err != nil {
			return nil, nil, fmt.Errorf("loop: model stream: %w", err)
		}
		resp.Parts = append(resp.Parts, update.Parts...)
		for _, p := range update.Parts {
			if text, ok := message.TextOf(p); ok {
				d.emit(coord, yield, Event{Kind: KindTextDelta, Time: time.Now(), RunID: state.RunID, Text: text})
			} else if text, _, ok := message.IsReasoning(p); ok {
				d.emit(coord, yield, Event{Kind: KindReasoningDelta, Time: time.Now(), RunID: state.RunID, Text: text})
			}
		}
		if update.Usage != nil {
			usage = update.Usage
		}
	}
	return resp, usage, nil
}

// emit pushes evt onto coord (if configured) and yields it to the
// iterator consumer, returning false if the consumer asked to stop.
func (d *Driver) emit(coord *Coordinator, yield func(Event, error) bool, evt Event) bool {
	if coord != nil {
		coord.Emit(evt)
	}
	if d.cfg.Dispatcher != nil {
		d.cfg.Dispatcher.Dispatch(evt)
	}
	return yield(evt, nil)
}

func (d *Driver) loadOrCreateState(ctx context.Context, threadID, agentName string, input []*message.Message) (*State, bool, string, error) {
	hasInput := len(input) > 0

	var doc checkpoint.Document
	var hasCheckpoint bool
	if d.cfg.Checkpointer != nil {
		var err error
		doc, err = d.cfg.Checkpointer.Load(ctx, threadID)
		switch {
		case err == nil:
			hasCheckpoint = true
		case err == checkpoint.ErrNotFound:
			hasCheckpoint = false
		default:
			return nil, false, "", fmt.Errorf("loop: load checkpoint: %w", err)
		}
	}

	switch checkpoint.ValidateResume(hasCheckpoint, hasInput) {
	case checkpoint.ScenarioEmptyRun:
		return nil, false, "", errs.ErrEmptyRun
	case checkpoint.ScenarioConflict:
		return nil, false, "", errs.ErrResumeWithNewMessages
	case checkpoint.ScenarioFreshRun:
		return NewState(threadID, agentName), false, "", nil
	default: // ScenarioResume
		state, err := Deserialize(doc.StateJSON)
		if err != nil {
			return nil, false, "", fmt.Errorf("loop: deserialize checkpoint: %w", err)
		}
		return state, true, doc.ETag, nil
	}
}

// checkpointIfDue saves state when point matches the configured
// frequency, using and then updating *prevETag as the optimistic
// concurrency token so repeated saves within one run chain correctly.
func (d *Driver) checkpointIfDue(ctx context.Context, threadID string, state *State, point checkpoint.Frequency, prevETag *string) error {
	if d.cfg.Checkpointer == nil || d.cfg.CheckpointFrequency == checkpoint.None {
		return nil
	}
	if d.cfg.CheckpointFrequency != point {
		return nil
	}
	data, err := state.Serialize()
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}
	doc := checkpoint.Document{ThreadID: threadID, ETag: state.ETag, StateJSON: data, SavedAt: time.Now()}
	if err := d.cfg.Checkpointer.Save(ctx, doc, *prevETag); err != nil {
		d.cfg.Metrics.IncCounter("agentloop.checkpoint.save", map[string]any{"outcome": "error"})
		return err
	}
	*prevETag = state.ETag
	d.cfg.Metrics.IncCounter("agentloop.checkpoint.save", map[string]any{"outcome": "ok"})
	return nil
}
