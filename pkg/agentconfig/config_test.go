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

package agentconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	c := &AgentConfiguration{}
	c.SetDefaults()

	assert.Equal(t, "agent", c.AgentName)
	assert.Equal(t, 25, c.MaxIterations)
	assert.Equal(t, 3, c.MaxConsecutiveFailures)
	assert.Equal(t, 5, c.MaxConsecutiveFunctionCalls)
	require.NotNil(t, c.TerminateOnUnknownCalls)
	assert.True(t, *c.TerminateOnUnknownCalls)
	assert.Equal(t, 8, c.MaxParallelFunctions)
	assert.Equal(t, 40, c.TargetMessageCount)
	assert.Equal(t, 20, c.ReductionThreshold)
	assert.Equal(t, "final", c.CheckpointFrequency)
	assert.Equal(t, "agentloop-checkpoints.db", c.CheckpointDBPath)
	require.NotNil(t, c.EnablePermissions)
	assert.False(t, *c.EnablePermissions)
}

func TestSetDefaultsDoesNotOverrideExplicitValues(t *testing.T) {
	f := false
	c := &AgentConfiguration{
		AgentName:               "researcher",
		MaxIterations:           7,
		TerminateOnUnknownCalls: &f,
	}
	c.SetDefaults()

	assert.Equal(t, "researcher", c.AgentName)
	assert.Equal(t, 7, c.MaxIterations)
	assert.False(t, c.TerminatesOnUnknownCalls())
}

func TestValidateRejectsNegativeBudgets(t *testing.T) {
	c := &AgentConfiguration{MaxIterations: -1, CheckpointFrequency: "final"}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownCheckpointFrequency(t *testing.T) {
	c := &AgentConfiguration{CheckpointFrequency: "sometimes"}
	assert.Error(t, c.Validate())
}

func TestValidateAcceptsKnownCheckpointFrequencies(t *testing.T) {
	for _, freq := range []string{"final", "per_iteration", "none"} {
		c := &AgentConfiguration{CheckpointFrequency: freq}
		assert.NoError(t, c.Validate())
	}
}

func TestPermissionsEnabledPredicate(t *testing.T) {
	c := &AgentConfiguration{}
	assert.False(t, c.PermissionsEnabled())

	enabled := true
	c.EnablePermissions = &enabled
	assert.True(t, c.PermissionsEnabled())
}

func TestLoadParsesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	yamlContent := []byte("agentName: researcher\nmaxIterations: 10\navailableTools: [\"add\", \"search\"]\n")
	require.NoError(t, os.WriteFile(path, yamlContent, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "researcher", cfg.AgentName)
	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, []string{"add", "search"}, cfg.AvailableTools)
	assert.Equal(t, "final", cfg.CheckpointFrequency) // filled by SetDefaults
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("checkpointFrequency: bogus\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
