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

// Package loop implements the agentic execution engine: an immutable
// loop state, a pure decision engine over it, turn preparation, the
// function-call processor, and the imperative driver that ties them
// together. The design mirrors the teacher's checkpoint/state.go
// copy-on-write fluent-transition idiom, generalized from a single agent
// session snapshot to the full iteration state of a running loop.
package loop

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelrun/agentloop/pkg/loop/errs"
	"github.com/kestrelrun/agentloop/pkg/message"
	"github.com/kestrelrun/agentloop/pkg/model"
)

// stateSchemaVersion is bumped whenever the persisted shape of State
// changes incompatibly. Deserialize refuses documents newer than this.
const stateSchemaVersion = 1

// Metadata carries caller-supplied, opaque bookkeeping that rides along
// with the state but is never interpreted by the loop itself.
type Metadata struct {
	Source string         `json:"source,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// PendingWrite records a tool result that has been computed and must be
// durably recorded before the loop may safely continue past it, the
// checkpointing sidecar described in the persisted state layout.
type PendingWrite struct {
	CallID       string    `json:"callId"`
	FunctionName string    `json:"functionName"`
	ResultJSON   string    `json:"resultJson"`
	CompletedAt  time.Time `json:"completedAt"`
	Iteration    int       `json:"iteration"`
	ThreadID     string    `json:"threadId"`
}

// State is the immutable snapshot of a running (or paused) agentic loop.
// Every transition method returns a new *State; the receiver is never
// mutated, following the teacher's checkpoint.State fluent-With* pattern.
type State struct {
	RunID          string `json:"runId"`
	ConversationID string `json:"conversationId"`
	AgentName      string `json:"agentName"`
	StartTime      time.Time `json:"startTime"`

	CurrentMessages []*message.Message `json:"currentMessages"`
	TurnHistory     []*message.Message `json:"turnHistory"`

	Iteration            int  `json:"iteration"`
	IsTerminated         bool `json:"isTerminated"`
	TerminationReason    string `json:"terminationReason,omitempty"`
	ConsecutiveFailures  int  `json:"consecutiveFailures"`

	LastSignaturePerTool    map[string]string `json:"lastSignaturePerTool"`
	ConsecutiveCountPerTool map[string]int    `json:"consecutiveCountPerTool"`

	ExpandedPluginContainers map[string]struct{} `json:"-"`
	ExpandedSkillContainers  map[string]struct{} `json:"-"`
	ActiveSkillInstructions  map[string]string   `json:"activeSkillInstructions"`
	CompletedFunctions       map[string]struct{} `json:"-"`

	ActiveReduction *Reduction `json:"activeReduction,omitempty"`

	InnerClientTracksHistory  bool `json:"innerClientTracksHistory"`
	MessagesSentToInnerClient int  `json:"messagesSentToInnerClient"`

	LastAssistantMessageID string                   `json:"lastAssistantMessageId,omitempty"`
	ResponseUpdates         []*model.ResponseUpdate `json:"-"`

	PendingWrites []PendingWrite `json:"pendingWrites,omitempty"`

	Version int      `json:"version"`
	Metadata Metadata `json:"metadata"`
	ETag     string   `json:"eTag"`
}

// NewState creates the fresh (iteration 0, untouched) state for a new
// run. Callers typically follow this with WithMessages for the initial
// user input.
func NewState(conversationID, agentName string) *State {
	return &State{
		RunID:                    uuid.NewString(),
		ConversationID:           conversationID,
		AgentName:                agentName,
		StartTime:                time.Now(),
		LastSignaturePerTool:     map[string]string{},
		ConsecutiveCountPerTool:  map[string]int{},
		ExpandedPluginContainers: map[string]struct{}{},
		ExpandedSkillContainers:  map[string]struct{}{},
		ActiveSkillInstructions:  map[string]string{},
		CompletedFunctions:       map[string]struct{}{},
		InnerClientTracksHistory: false,
		Version:                  stateSchemaVersion,
		ETag:                     uuid.NewString(),
	}
}

// clone returns a deep copy of s with a freshly minted ETag, the starting
// point for every transition method below.
func (s *State) clone() *State {
	c := *s
	c.CurrentMessages = message.CloneAll(s.CurrentMessages)
	c.TurnHistory = message.CloneAll(s.TurnHistory)
	c.LastSignaturePerTool = cloneStringMap(s.LastSignaturePerTool)
	c.ConsecutiveCountPerTool = cloneIntMap(s.ConsecutiveCountPerTool)
	c.ExpandedPluginContainers = cloneSet(s.ExpandedPluginContainers)
	c.ExpandedSkillContainers = cloneSet(s.ExpandedSkillContainers)
	c.ActiveSkillInstructions = cloneStringMap(s.ActiveSkillInstructions)
	c.CompletedFunctions = cloneSet(s.CompletedFunctions)
	if s.ActiveReduction != nil {
		r := *s.ActiveReduction
		c.ActiveReduction = &r
	}
	c.PendingWrites = append([]PendingWrite(nil), s.PendingWrites...)
	c.ResponseUpdates = append([]*model.ResponseUpdate(nil), s.ResponseUpdates...)
	c.ETag = uuid.NewString()
	return &c
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSet(m map[string]struct{}) map[string]struct{} {
	if m == nil {
		return nil
	}
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

// NextIteration advances the iteration counter and resets per-iteration
// response accounting.
func (s *State) NextIteration() *State {
	c := s.clone()
	c.Iteration++
	c.ResponseUpdates = nil
	return c
}

// WithMessages replaces the current turn's input messages.
func (s *State) WithMessages(msgs []*message.Message) *State {
	c := s.clone()
	c.CurrentMessages = message.CloneAll(msgs)
	return c
}

// AppendToTurnHistory appends messages to the durable turn history (the
// record sent to/received from the model across iterations).
func (s *State) AppendToTurnHistory(msgs ...*message.Message) *State {
	c := s.clone()
	c.TurnHistory = append(c.TurnHistory, message.CloneAll(msgs)...)
	return c
}

// WithSuccess resets the consecutive-failure counter after an iteration
// made progress.
func (s *State) WithSuccess() *State {
	c := s.clone()
	c.ConsecutiveFailures = 0
	return c
}

// WithFailure increments the consecutive-failure counter after an
// iteration failed to make progress (a failed function call, or a model
// stream that returned an error).
func (s *State) WithFailure() *State {
	c := s.clone()
	c.ConsecutiveFailures++
	return c
}

// Terminate marks the loop as finished with the given human-readable
// reason. Run performs no further iterations on a terminated state,
// including one resumed from a checkpoint.
func (s *State) Terminate(reason string) *State {
	c := s.clone()
	c.IsTerminated = true
	c.TerminationReason = reason
	return c
}

// WithExpandedPlugin records that a plugin container has been expanded.
// The driver does not recompute the tool list offered to the model from
// this set.
func (s *State) WithExpandedPlugin(name string) *State {
	c := s.clone()
	if c.ExpandedPluginContainers == nil {
		c.ExpandedPluginContainers = map[string]struct{}{}
	}
	c.ExpandedPluginContainers[name] = struct{}{}
	return c
}

// WithExpandedSkill records that a skill container has been expanded and
// stores its instructions in ActiveSkillInstructions. Turn preparation
// does not read them, so they are not added to the system prompt.
func (s *State) WithExpandedSkill(name, instructions string) *State {
	c := s.clone()
	if c.ExpandedSkillContainers == nil {
		c.ExpandedSkillContainers = map[string]struct{}{}
	}
	c.ExpandedSkillContainers[name] = struct{}{}
	if c.ActiveSkillInstructions == nil {
		c.ActiveSkillInstructions = map[string]string{}
	}
	c.ActiveSkillInstructions[name] = instructions
	return c
}

// WithPendingWrite appends a pending checkpoint write.
func (s *State) WithPendingWrite(pw PendingWrite) *State {
	c := s.clone()
	c.PendingWrites = append(c.PendingWrites, pw)
	return c
}

// ClearPendingWrites removes all pending writes, called once a
// checkpointer confirms they are durably recorded.
func (s *State) ClearPendingWrites() *State {
	c := s.clone()
	c.PendingWrites = nil
	return c
}

// CompleteFunction marks a call ID as having produced a successful
// result. The driver records one for each successful function outcome;
// there is no pending-write replay on resume that reads them.
func (s *State) CompleteFunction(callID string) *State {
	c := s.clone()
	if c.CompletedFunctions == nil {
		c.CompletedFunctions = map[string]struct{}{}
	}
	c.CompletedFunctions[callID] = struct{}{}
	return c
}

// RecordToolCall updates the circuit-breaker bookkeeping for a tool call:
// the consecutive-count increments when the signature repeats the last
// one recorded for that tool, and resets otherwise.
func (s *State) RecordToolCall(name, signature string) *State {
	c := s.clone()
	if c.LastSignaturePerTool == nil {
		c.LastSignaturePerTool = map[string]string{}
	}
	if c.ConsecutiveCountPerTool == nil {
		c.ConsecutiveCountPerTool = map[string]int{}
	}
	if c.LastSignaturePerTool[name] == signature {
		c.ConsecutiveCountPerTool[name]++
	} else {
		c.ConsecutiveCountPerTool[name] = 1
	}
	c.LastSignaturePerTool[name] = signature
	return c
}

// EnableHistoryTracking marks that the inner chat client itself tracks
// conversation history (e.g. a stateful Responses-API-style client).
// Turn preparation does not read this flag; the full (possibly reduced)
// history is sent on every call either way.
func (s *State) EnableHistoryTracking() *State {
	c := s.clone()
	c.InnerClientTracksHistory = true
	return c
}

// DisableHistoryTracking clears the flag set by EnableHistoryTracking.
func (s *State) DisableHistoryTracking() *State {
	c := s.clone()
	c.InnerClientTracksHistory = false
	return c
}

// WithReduction installs a new History Reduction State snapshot.
func (s *State) WithReduction(r *Reduction) *State {
	c := s.clone()
	if r == nil {
		c.ActiveReduction = nil
	} else {
		rr := *r
		c.ActiveReduction = &rr
	}
	return c
}

// ClearReduction discards the active reduction, forcing the next turn to
// use the full unsummarized history.
func (s *State) ClearReduction() *State {
	return s.WithReduction(nil)
}

// stateDoc is the JSON wire shape, including the map-typed set fields
// State keeps unexported from json via "-" tags (Go's map[string]struct{}
// marshals as an object, but we want a flat string array on the wire).
type stateDoc struct {
	State
	ExpandedPluginContainers []string `json:"expandedPluginContainers"`
	ExpandedSkillContainers  []string `json:"expandedSkillContainers"`
	CompletedFunctions       []string `json:"completedFunctions"`
}

// Serialize produces the canonical JSON document for this state, the
// payload a Checkpointer persists.
func (s *State) Serialize() ([]byte, error) {
	doc := stateDoc{State: *s}
	doc.ExpandedPluginContainers = setToSlice(s.ExpandedPluginContainers)
	doc.ExpandedSkillContainers = setToSlice(s.ExpandedSkillContainers)
	doc.CompletedFunctions = setToSlice(s.CompletedFunctions)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("loop: serialize state: %w", err)
	}
	return data, nil
}

func setToSlice(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Deserialize reconstructs a State from a document written by Serialize.
// It rejects documents whose Version exceeds what this build understands.
func Deserialize(data []byte) (*State, error) {
	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("loop: deserialize state: %w", err)
	}
	if doc.Version > stateSchemaVersion {
		return nil, fmt.Errorf("%w: document version %d, supported up to %d", errs.ErrVersionTooNew, doc.Version, stateSchemaVersion)
	}
	s := doc.State
	s.ExpandedPluginContainers = sliceToSet(doc.ExpandedPluginContainers)
	s.ExpandedSkillContainers = sliceToSet(doc.ExpandedSkillContainers)
	s.CompletedFunctions = sliceToSet(doc.CompletedFunctions)
	return &s, nil
}

func sliceToSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}
