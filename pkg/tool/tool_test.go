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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTool(name string, parentContainer string, isSkill bool) *Func {
	return &Func{
		FName:        name,
		FDescription: "desc for " + name,
		FMetadata:    Metadata{ParentContainer: parentContainer, IsSkill: isSkill},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return name, nil
		},
	}
}

func TestStaticRegistryLookup(t *testing.T) {
	add := newTestTool("add", "", false)
	reg := NewStaticRegistry(add)

	found, ok := reg.Lookup("add")
	require.True(t, ok)
	assert.Equal(t, "add", found.Name())

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestStaticRegistryAvailableHidesUnexpandedContainers(t *testing.T) {
	top := newTestTool("top", "", false)
	pluginMember := newTestTool("plugin_tool", "myplugin", false)
	skillMember := newTestTool("skill_tool", "myskill", true)
	reg := NewStaticRegistry(top, pluginMember, skillMember)

	defs := reg.Available(nil, nil)
	names := namesOf(defs)
	assert.Contains(t, names, "top")
	assert.NotContains(t, names, "plugin_tool")
	assert.NotContains(t, names, "skill_tool")
}

func TestStaticRegistryAvailableRevealsExpandedContainers(t *testing.T) {
	pluginMember := newTestTool("plugin_tool", "myplugin", false)
	skillMember := newTestTool("skill_tool", "myskill", true)
	reg := NewStaticRegistry(pluginMember, skillMember)

	expandedPlugins := map[string]struct{}{"myplugin": {}}
	expandedSkills := map[string]struct{}{"myskill": {}}
	defs := reg.Available(expandedPlugins, expandedSkills)
	names := namesOf(defs)
	assert.Contains(t, names, "plugin_tool")
	assert.Contains(t, names, "skill_tool")
}

func TestFuncInvoke(t *testing.T) {
	f := &Func{
		FName: "double",
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			n := args["n"].(float64)
			return n * 2, nil
		},
	}
	result, err := f.Invoke(context.Background(), map[string]any{"n": 21.0})
	require.NoError(t, err)
	assert.Equal(t, 42.0, result)
}

func namesOf(defs []Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}
