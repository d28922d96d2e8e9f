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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelrun/agentloop/pkg/loop/errs"
)

func TestCoordinatorEmitAndNext(t *testing.T) {
	c := NewCoordinator()
	c.Emit(Event{Kind: KindTextDelta, Text: "hi"})

	evt, ok := c.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "hi", evt.Text)
}

func TestCoordinatorDrain(t *testing.T) {
	c := NewCoordinator()
	c.Emit(Event{Kind: KindTextDelta, Text: "one"})
	c.Emit(Event{Kind: KindTextDelta, Text: "two"})

	events := c.Drain()
	require.Len(t, events, 2)
	assert.Empty(t, c.Drain())
}

func TestCoordinatorNextUnblocksOnClose(t *testing.T) {
	c := NewCoordinator()
	done := make(chan bool, 1)
	go func() {
		_, ok := c.Next(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not unblock on Close")
	}
}

func TestCoordinatorWaitForResponseDeliversSendResponse(t *testing.T) {
	c := NewCoordinator()
	requestID := NewRequestID()
	require.NotEmpty(t, requestID)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.SendResponse(requestID, Event{Kind: KindPermissionResolved, Text: "approved"})
	}()

	evt, err := c.WaitForResponse(context.Background(), requestID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "approved", evt.Text)
}

func TestCoordinatorWaitForResponseTimesOut(t *testing.T) {
	c := NewCoordinator()
	_, err := c.WaitForResponse(context.Background(), "never-answered", 20*time.Millisecond)
	assert.ErrorIs(t, err, errs.ErrTimeout)
}

func TestCoordinatorWaitForResponseHonorsCancel(t *testing.T) {
	c := NewCoordinator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.WaitForResponse(ctx, "id", time.Second)
	assert.ErrorIs(t, err, errs.ErrCancelled)
}

func TestCoordinatorSetParentRejectsCycle(t *testing.T) {
	a := NewCoordinator()
	b := NewCoordinator()
	require.NoError(t, a.SetParent(b))
	err := b.SetParent(a)
	assert.Error(t, err)
}

func TestCoordinatorBubblesToParentWhenClosed(t *testing.T) {
	parent := NewCoordinator()
	child := NewCoordinator()
	require.NoError(t, child.SetParent(parent))
	child.Close()

	child.Emit(Event{Kind: KindTextDelta, Text: "bubbled"})

	evt, ok := parent.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "bubbled", evt.Text)
}

func TestCoordinatorBubblesToParentWhileOpen(t *testing.T) {
	parent := NewCoordinator()
	child := NewCoordinator()
	require.NoError(t, child.SetParent(parent))

	child.Emit(Event{Kind: KindTextDelta, Text: "live"})

	evt, ok := parent.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "live", evt.Text)

	childEvt, ok := child.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "live", childEvt.Text)
}
