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

// Package tool defines the external collaborator contract between the
// agentic loop and the functions it can call: plain tools, container
// tools that expand into further tools (plugins, skills), and the
// registry that resolves a function call's name to an implementation.
package tool

import "context"

// Definition describes a tool to the model: its name, a natural-language
// description, and a static JSON-schema-shaped argument description.
// Schemas are authored by hand, never generated from source.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Metadata carries the loop-relevant facts about a tool beyond its calling
// convention: whether invoking it expands further tools into context,
// whether it requires human approval before execution, and, for container
// tools, the identity of the container they belong to.
type Metadata struct {
	// RequiresPermission gates execution behind the Permission Manager.
	RequiresPermission bool

	// IsContainer marks a tool whose invocation expands a plugin
	// container. Registry.Available shows the plugin's member tools once
	// the caller passes the container in the expanded set; the loop driver
	// records the expansion but does not recompute the offered tools.
	IsContainer bool

	// IsSkill marks a tool whose invocation expands a skill container and
	// carries SkillInstructions.
	IsSkill bool

	// ContainerName is the plugin or skill name this tool expands, set
	// when IsContainer or IsSkill is true.
	ContainerName string

	// SkillInstructions is recorded in the loop state once the skill
	// identified by ContainerName is expanded; it is not added to the
	// system prompt.
	SkillInstructions string

	// ParentContainer names the plugin or skill this tool was expanded
	// from, empty for top-level tools.
	ParentContainer string
}

// Tool is the minimal calling contract: a name, description, and a
// synchronous invocation.
type Tool interface {
	Name() string
	Description() string
	Metadata() Metadata
	Definition() Definition
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Registry resolves function-call names to tools and reports which tools
// are currently available (accounting for container expansion).
type Registry interface {
	// Lookup returns the tool registered under name, if any.
	Lookup(name string) (Tool, bool)

	// Available returns the definitions of every tool currently visible
	// to the model, given the set of expanded plugin/skill containers.
	Available(expandedPlugins, expandedSkills map[string]struct{}) []Definition
}

// StaticRegistry is a Registry backed by an in-memory map, sufficient for
// the demo binary and for tests.
type StaticRegistry struct {
	tools map[string]Tool
}

// NewStaticRegistry builds a StaticRegistry from a list of tools.
func NewStaticRegistry(tools ...Tool) *StaticRegistry {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}
	return &StaticRegistry{tools: m}
}

func (r *StaticRegistry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *StaticRegistry) Available(expandedPlugins, expandedSkills map[string]struct{}) []Definition {
	var defs []Definition
	for _, t := range r.tools {
		meta := t.Metadata()
		if meta.ParentContainer != "" {
			if meta.IsSkill {
				if _, ok := expandedSkills[meta.ParentContainer]; !ok {
					continue
				}
			} else if _, ok := expandedPlugins[meta.ParentContainer]; !ok {
				continue
			}
		}
		defs = append(defs, t.Definition())
	}
	return defs
}

// Func adapts a plain function into a Tool, for simple cases (the demo
// binary's toy tools) that don't need custom metadata.
type Func struct {
	FName        string
	FDescription string
	FParameters  map[string]any
	FMetadata    Metadata
	Fn           func(ctx context.Context, args map[string]any) (any, error)
}

func (f *Func) Name() string        { return f.FName }
func (f *Func) Description() string { return f.FDescription }
func (f *Func) Metadata() Metadata  { return f.FMetadata }
func (f *Func) Definition() Definition {
	return Definition{Name: f.FName, Description: f.FDescription, Parameters: f.FParameters}
}
func (f *Func) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}
