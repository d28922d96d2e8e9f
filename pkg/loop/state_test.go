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
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelrun/agentloop/pkg/loop/errs"
	"github.com/kestrelrun/agentloop/pkg/message"
)

func TestNewStateDefaults(t *testing.T) {
	s := NewState("conv-1", "researcher")
	assert.NotEmpty(t, s.RunID)
	assert.NotEmpty(t, s.ETag)
	assert.Equal(t, "conv-1", s.ConversationID)
	assert.Equal(t, "researcher", s.AgentName)
	assert.Equal(t, 0, s.Iteration)
	assert.False(t, s.IsTerminated)
}

func TestTransitionsAreCopyOnWrite(t *testing.T) {
	s := NewState("conv-1", "agent")
	next := s.NextIteration()

	assert.Equal(t, 0, s.Iteration)
	assert.Equal(t, 1, next.Iteration)
	assert.NotEqual(t, s.ETag, next.ETag)
}

func TestWithMessagesClonesInput(t *testing.T) {
	s := NewState("conv-1", "agent")
	msgs := []*message.Message{message.New(message.RoleUser, message.Text("hi"))}
	next := s.WithMessages(msgs)

	require.Len(t, next.CurrentMessages, 1)
	msgs[0].Parts[0] = message.Text("mutated")
	assert.Equal(t, "hi", message.TextContent(next.CurrentMessages[0]))
}

func TestWithSuccessAndFailure(t *testing.T) {
	s := NewState("conv-1", "agent").WithFailure().WithFailure()
	assert.Equal(t, 2, s.ConsecutiveFailures)

	s = s.WithSuccess()
	assert.Equal(t, 0, s.ConsecutiveFailures)
}

func TestTerminate(t *testing.T) {
	s := NewState("conv-1", "agent").Terminate("max iterations reached")
	assert.True(t, s.IsTerminated)
	assert.Equal(t, "max iterations reached", s.TerminationReason)
}

func TestRecordToolCallTracksConsecutiveSignatures(t *testing.T) {
	s := NewState("conv-1", "agent")
	s = s.RecordToolCall("search", "sig-a")
	assert.Equal(t, 1, s.ConsecutiveCountPerTool["search"])

	s = s.RecordToolCall("search", "sig-a")
	assert.Equal(t, 2, s.ConsecutiveCountPerTool["search"])

	s = s.RecordToolCall("search", "sig-b")
	assert.Equal(t, 1, s.ConsecutiveCountPerTool["search"])
}

func TestWithExpandedPluginAndSkill(t *testing.T) {
	s := NewState("conv-1", "agent")
	s = s.WithExpandedPlugin("myplugin")
	_, ok := s.ExpandedPluginContainers["myplugin"]
	assert.True(t, ok)

	s = s.WithExpandedSkill("myskill", "use tools carefully")
	_, ok = s.ExpandedSkillContainers["myskill"]
	assert.True(t, ok)
	assert.Equal(t, "use tools carefully", s.ActiveSkillInstructions["myskill"])
}

func TestPendingWriteLifecycle(t *testing.T) {
	s := NewState("conv-1", "agent")
	s = s.WithPendingWrite(PendingWrite{CallID: "call-1", FunctionName: "add"})
	require.Len(t, s.PendingWrites, 1)

	s = s.ClearPendingWrites()
	assert.Empty(t, s.PendingWrites)
}

func TestCompleteFunction(t *testing.T) {
	s := NewState("conv-1", "agent").CompleteFunction("call-1")
	_, ok := s.CompletedFunctions["call-1"]
	assert.True(t, ok)
}

func TestHistoryTrackingToggle(t *testing.T) {
	s := NewState("conv-1", "agent")
	assert.False(t, s.InnerClientTracksHistory)

	s = s.EnableHistoryTracking()
	assert.True(t, s.InnerClientTracksHistory)

	s = s.DisableHistoryTracking()
	assert.False(t, s.InnerClientTracksHistory)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	s := NewState("conv-1", "agent")
	s = s.WithMessages([]*message.Message{message.New(message.RoleUser, message.Text("hello"))})
	s = s.WithExpandedPlugin("myplugin")
	s = s.CompleteFunction("call-1")
	s = s.RecordToolCall("search", "sig")

	data, err := s.Serialize()
	require.NoError(t, err)

	back, err := Deserialize(data)
	require.NoError(t, err)

	diff := cmp.Diff(s, back, cmpopts.IgnoreFields(State{}, "ResponseUpdates"))
	assert.Empty(t, diff)
}

func TestDeserializeRejectsFutureVersion(t *testing.T) {
	s := NewState("conv-1", "agent")
	data, err := s.Serialize()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["version"] = float64(999)
	tooNew, err := json.Marshal(raw)
	require.NoError(t, err)

	_, err = Deserialize(tooNew)
	assert.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrVersionTooNew)
}
