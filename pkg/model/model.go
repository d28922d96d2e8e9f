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

// Package model defines the chat completion client contract the agentic
// loop drives: a single Stream method returning an iter.Seq2 of response
// updates, aligned with the rest of this codebase's streaming convention.
package model

import (
	"context"
	"iter"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kestrelrun/agentloop/pkg/message"
	"github.com/kestrelrun/agentloop/pkg/tool"
)

// ToolMode constrains how the model may use the tools it is offered.
type ToolMode string

const (
	ToolModeAuto     ToolMode = "auto"
	ToolModeRequired ToolMode = "required"
	ToolModeNone     ToolMode = "none"
)

// Options carries per-call model configuration. Fields left nil/zero
// inherit the client's own defaults.
type Options struct {
	ModelID                string
	Instructions           string
	Tools                  []tool.Definition
	ToolMode               ToolMode
	AllowMultipleToolCalls bool
	Temperature            *float64
	TopP                   *float64
	TopK                   *int
	MaxOutputTokens        *int
	FrequencyPenalty       *float64
	PresencePenalty        *float64
	StopSequences          []string
	ResponseFormat         string
	Seed                   *int64
	ConversationID         string
	AdditionalProperties   map[string]any
}

// Clone returns a deep copy, following the teacher's GenerateConfig.Clone
// convention for avoiding shared mutable state across pipeline stages.
func (o *Options) Clone() *Options {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Tools != nil {
		clone.Tools = append([]tool.Definition(nil), o.Tools...)
	}
	if o.Temperature != nil {
		v := *o.Temperature
		clone.Temperature = &v
	}
	if o.TopP != nil {
		v := *o.TopP
		clone.TopP = &v
	}
	if o.TopK != nil {
		v := *o.TopK
		clone.TopK = &v
	}
	if o.MaxOutputTokens != nil {
		v := *o.MaxOutputTokens
		clone.MaxOutputTokens = &v
	}
	if o.FrequencyPenalty != nil {
		v := *o.FrequencyPenalty
		clone.FrequencyPenalty = &v
	}
	if o.PresencePenalty != nil {
		v := *o.PresencePenalty
		clone.PresencePenalty = &v
	}
	if o.StopSequences != nil {
		clone.StopSequences = append([]string(nil), o.StopSequences...)
	}
	if o.Seed != nil {
		v := *o.Seed
		clone.Seed = &v
	}
	if o.AdditionalProperties != nil {
		clone.AdditionalProperties = make(map[string]any, len(o.AdditionalProperties))
		for k, v := range o.AdditionalProperties {
			clone.AdditionalProperties[k] = v
		}
	}
	return &clone
}

// MergeOptions layers caller-supplied options over a base configuration;
// any non-zero field on caller wins, nil/zero fields fall back to base.
func MergeOptions(base, caller *Options) *Options {
	if base == nil {
		return caller.Clone()
	}
	merged := base.Clone()
	if caller == nil {
		return merged
	}
	if caller.ModelID != "" {
		merged.ModelID = caller.ModelID
	}
	if caller.Instructions != "" {
		merged.Instructions = caller.Instructions
	}
	if len(caller.Tools) > 0 {
		merged.Tools = append([]tool.Definition(nil), caller.Tools...)
	}
	if caller.ToolMode != "" {
		merged.ToolMode = caller.ToolMode
	}
	if caller.AllowMultipleToolCalls {
		merged.AllowMultipleToolCalls = true
	}
	if caller.Temperature != nil {
		merged.Temperature = caller.Temperature
	}
	if caller.TopP != nil {
		merged.TopP = caller.TopP
	}
	if caller.TopK != nil {
		merged.TopK = caller.TopK
	}
	if caller.MaxOutputTokens != nil {
		merged.MaxOutputTokens = caller.MaxOutputTokens
	}
	if caller.FrequencyPenalty != nil {
		merged.FrequencyPenalty = caller.FrequencyPenalty
	}
	if caller.PresencePenalty != nil {
		merged.PresencePenalty = caller.PresencePenalty
	}
	if len(caller.StopSequences) > 0 {
		merged.StopSequences = append([]string(nil), caller.StopSequences...)
	}
	if caller.ResponseFormat != "" {
		merged.ResponseFormat = caller.ResponseFormat
	}
	if caller.Seed != nil {
		merged.Seed = caller.Seed
	}
	if caller.ConversationID != "" {
		merged.ConversationID = caller.ConversationID
	}
	for k, v := range caller.AdditionalProperties {
		if merged.AdditionalProperties == nil {
			merged.AdditionalProperties = map[string]any{}
		}
		merged.AdditionalProperties[k] = v
	}
	return merged
}

// Usage contains token accounting for a single model call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ThinkingTokens   int
}

// FinishReason indicates why the model stopped generating.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonContent   FinishReason = "content_filter"
	FinishReasonError     FinishReason = "error"
)

// ResponseUpdate is one increment of a streamed model response. The final
// update of a turn carries Usage and a non-empty FinishReason.
type ResponseUpdate struct {
	Parts          []a2a.Part
	FinishReason   FinishReason
	ModelID        string
	ResponseID     string
	ConversationID string
	CreatedAt      time.Time
	Usage          *Usage
	Partial        bool
}

// ChatClient is the external collaborator the driver calls against. Implementations stream content parts;
// a non-streaming provider can implement this by yielding a single final
// update.
type ChatClient interface {
	Stream(ctx context.Context, messages []*message.Message, opts *Options) iter.Seq2[*ResponseUpdate, error]
}
