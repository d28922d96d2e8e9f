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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelrun/agentloop/pkg/loop/errs"
)

// Coordinator is the bidirectional event channel between a running loop
// and its caller: the driver emits events by calling Emit, the caller
// drains them with Next/Drain, and human-in-the-loop responses (a
// permission decision, additional user input) travel the other way via
// SendResponse/WaitForResponse. A Coordinator may bubble unhandled
// emissions up to a parent coordinator, used when one loop's tool
// spawns another loop as a sub-agent; SetParent rejects cycles.
type Coordinator struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	closed  bool
	parent  *Coordinator
	waiters map[string]chan Event
}

// NewCoordinator creates a ready-to-use Coordinator.
func NewCoordinator() *Coordinator {
	c := &Coordinator{waiters: map[string]chan Event{}}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SetParent configures p as the coordinator events bubble up to when
// this coordinator has no local waiter for them. Returns an error if
// doing so would create a cycle.
func (c *Coordinator) SetParent(p *Coordinator) error {
	if p == nil {
		c.mu.Lock()
		c.parent = nil
		c.mu.Unlock()
		return nil
	}
	for cur := p; cur != nil; cur = cur.parentSnapshot() {
		if cur == c {
			return fmt.Errorf("loop: setting parent would create a coordinator cycle")
		}
	}
	c.mu.Lock()
	c.parent = p
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) parentSnapshot() *Coordinator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parent
}

// Emit enqueues an event for consumption by Next/Drain, then -- regardless
// of whether this coordinator is closed -- recursively bubbles the same
// event to a configured parent, so a nested agent's events reach the
// orchestrator in real time rather than only once this coordinator is torn
// down. If a waiter is registered for the event's RequestID (via
// WaitForResponse), the event is delivered directly to that waiter instead
// of the general queue, and is not bubbled further.
func (c *Coordinator) Emit(evt Event) {
	c.mu.Lock()
	if evt.RequestID != "" {
		if ch, ok := c.waiters[evt.RequestID]; ok {
			delete(c.waiters, evt.RequestID)
			c.mu.Unlock()
			ch <- evt
			return
		}
	}
	closed := c.closed
	parent := c.parent
	if !closed {
		c.queue = append(c.queue, evt)
		c.cond.Signal()
	}
	c.mu.Unlock()

	if parent != nil {
		parent.Emit(evt)
	}
}

// Next blocks until an event is available, the coordinator is closed and
// drained, or ctx is cancelled. The second return value is false only
// when the coordinator is closed with nothing left to deliver.
func (c *Coordinator) Next(ctx context.Context) (Event, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 && !c.closed {
		if ctx.Err() != nil {
			return Event{}, false
		}
		c.cond.Wait()
	}
	if len(c.queue) == 0 {
		return Event{}, false
	}
	evt := c.queue[0]
	c.queue = c.queue[1:]
	return evt, true
}

// Drain returns and clears every event currently queued, without
// blocking. Used by the driver's polling-while-awaiting loop.
func (c *Coordinator) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	out := c.queue
	c.queue = nil
	return out
}

// WaitForResponse blocks for a reply to requestID: a permission decision
// or additional user input sent via SendResponse/Emit. It returns
// errs.ErrTimeout if timeout elapses first, or errs.ErrCancelled if ctx
// is cancelled first. A zero timeout means wait indefinitely (bounded
// only by ctx).
func (c *Coordinator) WaitForResponse(ctx context.Context, requestID string, timeout time.Duration) (Event, error) {
	ch := make(chan Event, 1)
	c.mu.Lock()
	c.waiters[requestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, requestID)
		c.mu.Unlock()
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case evt := <-ch:
		return evt, nil
	case <-timeoutCh:
		return Event{}, errs.ErrTimeout
	case <-ctx.Done():
		return Event{}, errs.ErrCancelled
	}
}

// SendResponse delivers evt (with RequestID set to requestID) to a
// pending WaitForResponse call, or enqueues it normally if no such call
// is waiting.
func (c *Coordinator) SendResponse(requestID string, evt Event) {
	evt.RequestID = requestID
	c.Emit(evt)
}

// Close marks the coordinator closed; Next returns (Event{}, false) once
// the queue drains, and any still-pending WaitForResponse calls are left
// to their own ctx/timeout.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// NewRequestID generates a fresh, unique correlation ID for a
// bidirectional request (permission, user input).
func NewRequestID() string {
	return uuid.NewString()
}
