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

package main

import (
	"context"
	"iter"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kestrelrun/agentloop/pkg/message"
	"github.com/kestrelrun/agentloop/pkg/model"
)

// echoChatClient is a canned model.ChatClient standing in for a real
// provider: on the first call of a conversation it requests the "add"
// tool if the prompt mentions "2 + 2" or "add", otherwise it replies
// directly. Once it sees a tool result in history it replies with a fixed
// closing message that does not include the result. This is demo
// plumbing only, grounded on the teacher's
// llmagent test doubles rather than any real provider SDK.
type echoChatClient struct {
	tools map[string]bool
}

func newEchoChatClient(availableTools []string) *echoChatClient {
	t := make(map[string]bool, len(availableTools))
	for _, name := range availableTools {
		t[name] = true
	}
	return &echoChatClient{tools: t}
}

func (c *echoChatClient) Stream(ctx context.Context, messages []*message.Message, opts *model.Options) iter.Seq2[*model.ResponseUpdate, error] {
	return func(yield func(*model.ResponseUpdate, error) bool) {
		if hasFunctionResult(messages) {
			yield(&model.ResponseUpdate{
				Parts:        []a2a.Part{message.Text("Done: calculation complete.")},
				FinishReason: model.FinishReasonStop,
				Usage:        &model.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16},
			}, nil)
			return
		}

		prompt := lastUserText(messages)
		if wantsAdd(prompt) && toolOffered(opts, "add") {
			yield(&model.ResponseUpdate{
				Parts:        []a2a.Part{message.FunctionCall("call-1", "add", map[string]any{"a": 2, "b": 2})},
				FinishReason: model.FinishReasonToolCalls,
				Usage:        &model.Usage{PromptTokens: 10, CompletionTokens: 6, TotalTokens: 16},
			}, nil)
			return
		}

		yield(&model.ResponseUpdate{
			Parts:        []a2a.Part{message.Text("Hello! " + prompt)},
			FinishReason: model.FinishReasonStop,
			Usage:        &model.Usage{PromptTokens: 8, CompletionTokens: 4, TotalTokens: 12},
		}, nil)
	}
}

func wantsAdd(prompt string) bool {
	lower := strings.ToLower(prompt)
	return strings.Contains(lower, "2 + 2") || strings.Contains(lower, "add")
}

func toolOffered(opts *model.Options, name string) bool {
	if opts == nil {
		return false
	}
	for _, def := range opts.Tools {
		if def.Name == name {
			return true
		}
	}
	return false
}

func lastUserText(messages []*message.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == message.RoleUser {
			return message.TextContent(messages[i])
		}
	}
	return ""
}

func hasFunctionResult(messages []*message.Message) bool {
	for _, m := range messages {
		if m.Role == message.RoleTool && message.HasFunctionResults(m) {
			return true
		}
	}
	return false
}
