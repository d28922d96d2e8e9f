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

// Package agentconfig loads and validates AgentConfiguration, following
// the teacher's pointer-typed-optional-bool SetDefaults()/Validate()/
// IsX() convention from pkg/checkpoint/config.go.
package agentconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentConfiguration is the minimal, spec-shaped configuration an
// agentloop process needs: iteration/failure budgets, the tool
// allowlist, and checkpoint/reduction tuning.
type AgentConfiguration struct {
	AgentName string `yaml:"agentName"`

	MaxIterations               int      `yaml:"maxIterations"`
	MaxConsecutiveFailures      int      `yaml:"maxConsecutiveFailures"`
	MaxConsecutiveFunctionCalls int      `yaml:"maxConsecutiveFunctionCalls"`
	TerminateOnUnknownCalls     *bool    `yaml:"terminateOnUnknownCalls,omitempty"`
	AvailableTools              []string `yaml:"availableTools,omitempty"`

	MaxParallelFunctions int `yaml:"maxParallelFunctions"`

	TargetMessageCount int `yaml:"targetMessageCount"`
	ReductionThreshold int `yaml:"reductionThreshold"`

	CheckpointFrequency string `yaml:"checkpointFrequency"`
	CheckpointDBPath    string `yaml:"checkpointDbPath"`

	EnablePermissions *bool `yaml:"enablePermissions,omitempty"`
}

// SetDefaults fills in the zero-value fields with the engine's defaults,
// mirroring the teacher's config.SetDefaults() idiom.
func (c *AgentConfiguration) SetDefaults() {
	if c.AgentName == "" {
		c.AgentName = "agent"
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 25
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.MaxConsecutiveFunctionCalls == 0 {
		c.MaxConsecutiveFunctionCalls = 5
	}
	if c.TerminateOnUnknownCalls == nil {
		t := true
		c.TerminateOnUnknownCalls = &t
	}
	if c.MaxParallelFunctions == 0 {
		c.MaxParallelFunctions = 8
	}
	if c.TargetMessageCount == 0 {
		c.TargetMessageCount = 40
	}
	if c.ReductionThreshold == 0 {
		c.ReductionThreshold = 20
	}
	if c.CheckpointFrequency == "" {
		c.CheckpointFrequency = "final"
	}
	if c.CheckpointDBPath == "" {
		c.CheckpointDBPath = "agentloop-checkpoints.db"
	}
	if c.EnablePermissions == nil {
		f := false
		c.EnablePermissions = &f
	}
}

// Validate checks invariants SetDefaults cannot repair on its own.
func (c *AgentConfiguration) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("agentconfig: maxIterations must be >= 0")
	}
	if c.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("agentconfig: maxConsecutiveFailures must be >= 0")
	}
	if c.MaxConsecutiveFunctionCalls < 0 {
		return fmt.Errorf("agentconfig: maxConsecutiveFunctionCalls must be >= 0")
	}
	switch c.CheckpointFrequency {
	case "final", "per_iteration", "none":
	default:
		return fmt.Errorf("agentconfig: unknown checkpointFrequency %q", c.CheckpointFrequency)
	}
	return nil
}

// TerminatesOnUnknownCalls reports the resolved boolean, following the
// teacher's IsEnabled()-style predicate convention for pointer bools.
func (c *AgentConfiguration) TerminatesOnUnknownCalls() bool {
	return c.TerminateOnUnknownCalls != nil && *c.TerminateOnUnknownCalls
}

// PermissionsEnabled reports the resolved boolean for EnablePermissions.
func (c *AgentConfiguration) PermissionsEnabled() bool {
	return c.EnablePermissions != nil && *c.EnablePermissions
}

// Load reads, defaults, and validates an AgentConfiguration from a YAML
// file at path.
func Load(path string) (*AgentConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentconfig: read %s: %w", path, err)
	}
	var cfg AgentConfiguration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("agentconfig: parse %s: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
