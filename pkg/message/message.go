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

// Package message wraps a2a-go's message model with the closed set of
// content part variants the agentic loop needs: text, reasoning, function
// call, function result, opaque data, and usage. a2a.TextPart covers Text
// directly; the remaining variants are carried as a2a.DataPart with a
// "type" discriminator, the same convention the rest of this stack uses
// for tool_use/tool_result parts.
package message

import (
	"encoding/base64"
	"fmt"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

func (r Role) toA2A() a2a.MessageRole {
	switch r {
	case RoleUser, RoleSystem, RoleTool:
		return a2a.MessageRoleUser
	default:
		return a2a.MessageRoleAgent
	}
}

// Message is a single turn in a conversation: a role plus an ordered list
// of content parts.
type Message struct {
	ID                   string
	Role                 Role
	Parts                []a2a.Part
	AdditionalProperties map[string]any
}

// New creates a Message with a generated ID.
func New(role Role, parts ...a2a.Part) *Message {
	return &Message{
		ID:    uuid.NewString(),
		Role:  role,
		Parts: parts,
	}
}

// ToA2A converts a Message to the underlying a2a.Message wire type.
func (m *Message) ToA2A() *a2a.Message {
	if m == nil {
		return nil
	}
	msg := a2a.NewMessage(m.Role.toA2A(), m.Parts...)
	msg.MessageID = m.ID
	return msg
}

// FromA2A reconstructs a Message from an a2a.Message, given the role it
// was originally authored with (a2a.MessageRole collapses RoleSystem and
// RoleTool into RoleUser, so the caller must supply the original role
// when it matters).
func FromA2A(msg *a2a.Message, role Role) *Message {
	if msg == nil {
		return nil
	}
	return &Message{
		ID:    msg.MessageID,
		Role:  role,
		Parts: msg.Parts,
	}
}

// Text returns a plain text content part.
func Text(s string) a2a.Part {
	return a2a.TextPart{Text: s}
}

// TextOf returns the text of a part if it is a text part.
func TextOf(p a2a.Part) (string, bool) {
	if tp, ok := p.(a2a.TextPart); ok {
		return tp.Text, true
	}
	return "", false
}

// TextContent concatenates every text part of a message.
func TextContent(m *Message) string {
	if m == nil {
		return ""
	}
	var out string
	for _, p := range m.Parts {
		if s, ok := TextOf(p); ok {
			out += s
		}
	}
	return out
}

func dataPartType(p a2a.Part) (map[string]any, string, bool) {
	dp, ok := p.(a2a.DataPart)
	if !ok {
		return nil, "", false
	}
	t, ok := dp.Data["type"].(string)
	if !ok {
		return dp.Data, "", false
	}
	return dp.Data, t, true
}

// Reasoning returns a content part carrying the model's internal
// reasoning/thinking trace.
func Reasoning(text, signature string) a2a.Part {
	return a2a.DataPart{Data: map[string]any{
		"type":      "reasoning",
		"text":      text,
		"signature": signature,
	}}
}

// IsReasoning reports whether p is a Reasoning part and returns its text.
func IsReasoning(p a2a.Part) (text, signature string, ok bool) {
	data, t, isData := dataPartType(p)
	if !isData || t != "reasoning" {
		return "", "", false
	}
	text, _ = data["text"].(string)
	signature, _ = data["signature"].(string)
	return text, signature, true
}

// FunctionCall returns a content part requesting a tool invocation.
func FunctionCall(callID, name string, args map[string]any) a2a.Part {
	return a2a.DataPart{Data: map[string]any{
		"type":      "function_call",
		"call_id":   callID,
		"name":      name,
		"arguments": args,
	}}
}

// IsFunctionCall reports whether p is a FunctionCall part.
func IsFunctionCall(p a2a.Part) (callID, name string, args map[string]any, ok bool) {
	data, t, isData := dataPartType(p)
	if !isData || t != "function_call" {
		return "", "", nil, false
	}
	callID, _ = data["call_id"].(string)
	name, _ = data["name"].(string)
	args, _ = data["arguments"].(map[string]any)
	return callID, name, args, true
}

// FunctionResult returns a content part carrying the outcome of a tool
// invocation. exception is empty on success.
func FunctionResult(callID, name string, result any, exception string) a2a.Part {
	return a2a.DataPart{Data: map[string]any{
		"type":      "function_result",
		"call_id":   callID,
		"name":      name,
		"result":    result,
		"exception": exception,
	}}
}

// IsFunctionResult reports whether p is a FunctionResult part.
func IsFunctionResult(p a2a.Part) (callID, name string, result any, exception string, ok bool) {
	data, t, isData := dataPartType(p)
	if !isData || t != "function_result" {
		return "", "", nil, "", false
	}
	callID, _ = data["call_id"].(string)
	name, _ = data["name"].(string)
	result = data["result"]
	exception, _ = data["exception"].(string)
	return callID, name, result, exception, true
}

// Data returns an opaque binary content part (base64-encoded on the wire).
func Data(mediaType string, bytes []byte) a2a.Part {
	return a2a.DataPart{Data: map[string]any{
		"type":       "data",
		"media_type": mediaType,
		"bytes":      base64.StdEncoding.EncodeToString(bytes),
	}}
}

// IsData reports whether p is a Data part.
func IsData(p a2a.Part) (mediaType string, bytes []byte, ok bool) {
	data, t, isData := dataPartType(p)
	if !isData || t != "data" {
		return "", nil, false
	}
	mediaType, _ = data["media_type"].(string)
	encoded, _ := data["bytes"].(string)
	bytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return mediaType, nil, false
	}
	return mediaType, bytes, true
}

// Usage returns a content part carrying token accounting for a turn.
func Usage(prompt, completion, total, thinking int) a2a.Part {
	return a2a.DataPart{Data: map[string]any{
		"type":              "usage",
		"prompt_tokens":     prompt,
		"completion_tokens": completion,
		"total_tokens":      total,
		"thinking_tokens":   thinking,
	}}
}

// IsUsage reports whether p is a Usage part.
func IsUsage(p a2a.Part) (prompt, completion, total, thinking int, ok bool) {
	data, t, isData := dataPartType(p)
	if !isData || t != "usage" {
		return 0, 0, 0, 0, false
	}
	prompt = toInt(data["prompt_tokens"])
	completion = toInt(data["completion_tokens"])
	total = toInt(data["total_tokens"])
	thinking = toInt(data["thinking_tokens"])
	return prompt, completion, total, thinking, true
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// FunctionCalls returns every FunctionCall part in a message.
func FunctionCalls(m *Message) []struct {
	CallID string
	Name   string
	Args   map[string]any
} {
	var out []struct {
		CallID string
		Name   string
		Args   map[string]any
	}
	if m == nil {
		return out
	}
	for _, p := range m.Parts {
		if callID, name, args, ok := IsFunctionCall(p); ok {
			out = append(out, struct {
				CallID string
				Name   string
				Args   map[string]any
			}{callID, name, args})
		}
	}
	return out
}

// HasFunctionCalls reports whether m requests any tool invocation.
func HasFunctionCalls(m *Message) bool {
	if m == nil {
		return false
	}
	for _, p := range m.Parts {
		if _, _, _, ok := IsFunctionCall(p); ok {
			return true
		}
	}
	return false
}

// HasFunctionResults reports whether m carries any tool invocation outcome.
func HasFunctionResults(m *Message) bool {
	if m == nil {
		return false
	}
	for _, p := range m.Parts {
		if _, _, _, _, ok := IsFunctionResult(p); ok {
			return true
		}
	}
	return false
}

// Clone returns a shallow-independent copy of m; the Parts slice header is
// copied but individual parts (value types in a2a-go) are not mutated in
// place anywhere in this codebase, so this is sufficient for copy-on-write
// state transitions.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Parts = append([]a2a.Part(nil), m.Parts...)
	if m.AdditionalProperties != nil {
		clone.AdditionalProperties = make(map[string]any, len(m.AdditionalProperties))
		for k, v := range m.AdditionalProperties {
			clone.AdditionalProperties[k] = v
		}
	}
	return &clone
}

// CloneAll copies a slice of messages, each with Message.Clone.
func CloneAll(msgs []*Message) []*Message {
	if msgs == nil {
		return nil
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{id=%s role=%s parts=%d}", m.ID, m.Role, len(m.Parts))
}
