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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFunctionSignatureIsOrderIndependent(t *testing.T) {
	a := FunctionSignature("search", map[string]any{"query": "go", "limit": 10})
	b := FunctionSignature("search", map[string]any{"limit": 10, "query": "go"})
	assert.Equal(t, a, b)
}

func TestFunctionSignatureDiffersOnValueChange(t *testing.T) {
	a := FunctionSignature("search", map[string]any{"query": "go"})
	b := FunctionSignature("search", map[string]any{"query": "rust"})
	assert.NotEqual(t, a, b)
}

func TestFunctionSignatureEmptyArgs(t *testing.T) {
	sig := FunctionSignature("ping", nil)
	assert.Equal(t, "ping()", sig)
}

func TestFunctionSignatureFallsBackOnExcessiveDepth(t *testing.T) {
	deep := map[string]any{}
	cursor := deep
	for i := 0; i < maxSignatureDepth+5; i++ {
		next := map[string]any{}
		cursor["nested"] = next
		cursor = next
	}
	sig := FunctionSignature("recurse", deep)
	assert.True(t, strings.Contains(sig, ":"))
	assert.False(t, strings.HasPrefix(sig, "recurse("))
}
