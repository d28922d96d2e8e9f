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

package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addArgsForTest struct {
	A float64 `arg:"a"`
	B float64 `arg:"b"`
}

func TestDecodeArguments(t *testing.T) {
	var dst addArgsForTest
	err := DecodeArguments(map[string]any{"a": 2, "b": 3.5}, &dst)
	require.NoError(t, err)
	assert.Equal(t, 2.0, dst.A)
	assert.Equal(t, 3.5, dst.B)
}

func TestDecodeArgumentsWeaklyTypedStrings(t *testing.T) {
	var dst addArgsForTest
	err := DecodeArguments(map[string]any{"a": "2", "b": "3"}, &dst)
	require.NoError(t, err)
	assert.Equal(t, 2.0, dst.A)
	assert.Equal(t, 3.0, dst.B)
}

func TestDecodeArgumentsIgnoresUnknownKeys(t *testing.T) {
	var dst addArgsForTest
	err := DecodeArguments(map[string]any{"a": 1, "b": 2, "extra": "ignored"}, &dst)
	require.NoError(t, err)
	assert.Equal(t, 1.0, dst.A)
}

func TestDecodeArgumentsRejectsIncompatibleTypes(t *testing.T) {
	var dst addArgsForTest
	err := DecodeArguments(map[string]any{"a": map[string]any{"nested": true}, "b": 1}, &dst)
	assert.Error(t, err)
}
