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
	"sync"

	"github.com/kestrelrun/agentloop/pkg/message"
)

// Thread is the external collaborator owning the durable conversation
// history a loop reads from and appends to. It is distinct from the
// Checkpointer: a Thread holds the long-term message log (spec
// explicitly places long-term conversation storage out of this engine's
// scope beyond this interface), while the Checkpointer holds the
// engine's own iteration State for crash recovery.
type Thread interface {
	Messages(ctx context.Context) ([]*message.Message, error)
	AppendMessages(ctx context.Context, msgs ...*message.Message) error
}

// MemoryThread is an in-memory Thread, sufficient for the demo binary
// and for tests.
type MemoryThread struct {
	mu       sync.Mutex
	messages []*message.Message
}

// NewMemoryThread creates a MemoryThread seeded with msgs.
func NewMemoryThread(msgs ...*message.Message) *MemoryThread {
	return &MemoryThread{messages: append([]*message.Message(nil), msgs...)}
}

func (t *MemoryThread) Messages(ctx context.Context) ([]*message.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return message.CloneAll(t.messages), nil
}

func (t *MemoryThread) AppendMessages(ctx context.Context, msgs ...*message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, message.CloneAll(msgs)...)
	return nil
}
