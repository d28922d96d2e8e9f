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
	"fmt"

	"github.com/kestrelrun/agentloop/pkg/tool"
)

// addArgs is the typed argument struct for the "add" demo tool, decoded
// via tool.DecodeArguments instead of hand-walking the raw argument map.
type addArgs struct {
	A float64 `arg:"a"`
	B float64 `arg:"b"`
}

func demoToolRegistry() *tool.StaticRegistry {
	add := &tool.Func{
		FName:        "add",
		FDescription: "Adds two numbers and returns the sum.",
		FParameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			var decoded addArgs
			if err := tool.DecodeArguments(args, &decoded); err != nil {
				return nil, fmt.Errorf("add: decode arguments: %w", err)
			}
			return decoded.A + decoded.B, nil
		},
	}

	return tool.NewStaticRegistry(add)
}
