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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/kestrelrun/agentloop/pkg/loop/errs"
	"github.com/kestrelrun/agentloop/pkg/message"
)

// Reduction is the History Reduction State: a cached summary of a
// message prefix, together with the integrity hash needed to tell
// whether the prefix it summarized is still the prefix the current
// history starts with.
type Reduction struct {
	SummarizedUpToIndex     int       `json:"summarizedUpToIndex"`
	MessageCountAtReduction int       `json:"messageCountAtReduction"`
	SummaryContent          string    `json:"summaryContent"`
	CreatedAt               time.Time `json:"createdAt"`
	MessageHash             string    `json:"messageHash"`
	TargetMessageCount      int       `json:"targetMessageCount"`
	ReductionThreshold      int       `json:"reductionThreshold"`
}

// HashPrefix computes the integrity hash over msgs[:upTo]: a SHA-256 hex
// digest over each message's role and concatenated text content, joined
// by newlines. Non-text content (tool calls/results) contributes nothing
// to the hash beyond the count already implied by MessageCountAtReduction
// -- what matters for the cache is whether the summarized text prefix has
// since been mutated or reordered.
func HashPrefix(msgs []*message.Message, upTo int) string {
	if upTo > len(msgs) {
		upTo = len(msgs)
	}
	h := sha256.New()
	for _, m := range msgs[:upTo] {
		fmt.Fprintf(h, "%s|%s\n", m.Role, message.TextContent(m))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsValidFor reports whether this reduction may still be used given the
// current full message count: the message history must not have shrunk
// below the point it was reduced at, and it must not have grown past the
// reduction's own threshold since then -- once it has, the cache is stale
// and a fresh reduction is due.
func (r *Reduction) IsValidFor(currentCount int) bool {
	if r == nil {
		return false
	}
	if currentCount < r.MessageCountAtReduction {
		return false
	}
	return currentCount-r.MessageCountAtReduction <= r.ReductionThreshold
}

// VerifyIntegrity recomputes HashPrefix over msgs and compares it against
// the stored MessageHash, catching the case where messages before the
// summarized boundary were edited or reordered out from under the cache.
func (r *Reduction) VerifyIntegrity(msgs []*message.Message) error {
	if r == nil {
		return nil
	}
	if got := HashPrefix(msgs, r.SummarizedUpToIndex); got != r.MessageHash {
		return fmt.Errorf("%w: hash mismatch at index %d", errs.ErrIntegrityMismatch, r.SummarizedUpToIndex)
	}
	return nil
}

// ApplyToMessages returns the message list to actually send to the
// model: the summary as a single synthetic system-role message followed
// by every message after SummarizedUpToIndex.
func (r *Reduction) ApplyToMessages(all []*message.Message) ([]*message.Message, error) {
	if r == nil {
		return all, nil
	}
	if err := r.VerifyIntegrity(all); err != nil {
		return nil, err
	}
	if r.SummarizedUpToIndex > len(all) {
		return nil, fmt.Errorf("loop: reduction boundary %d beyond message count %d", r.SummarizedUpToIndex, len(all))
	}
	summary := message.New(message.RoleSystem, message.Text(r.SummaryContent))
	out := make([]*message.Message, 0, 1+len(all)-r.SummarizedUpToIndex)
	out = append(out, summary)
	out = append(out, all[r.SummarizedUpToIndex:]...)
	return out, nil
}

// Reducer is the external collaborator that turns a message prefix into
// a natural-language summary, typically backed by a cheap/fast model
// call distinct from the main chat client.
type Reducer interface {
	Reduce(ctx context.Context, messages []*message.Message) (string, error)
}

// ReducerFunc adapts a function to Reducer.
type ReducerFunc func(ctx context.Context, messages []*message.Message) (string, error)

func (f ReducerFunc) Reduce(ctx context.Context, messages []*message.Message) (string, error) {
	return f(ctx, messages)
}

// shouldReduce decides whether the current message count has crossed the
// configured reduction threshold above the target count the summary
// should bring history back down to.
func shouldReduce(currentCount, targetCount, threshold int) bool {
	if targetCount <= 0 {
		return false
	}
	return currentCount >= targetCount+threshold
}

// newReduction builds a fresh Reduction by summarizing the oldest
// messages down to targetCount, leaving the most recent targetCount
// messages untouched.
func newReduction(ctx context.Context, reducer Reducer, all []*message.Message, targetCount, threshold int) (*Reduction, error) {
	if reducer == nil {
		return nil, fmt.Errorf("loop: no reducer configured")
	}
	cut := len(all) - targetCount
	if cut <= 0 {
		return nil, fmt.Errorf("loop: nothing to reduce")
	}
	summary, err := reducer.Reduce(ctx, all[:cut])
	if err != nil {
		return nil, fmt.Errorf("loop: reduce history: %w", err)
	}
	return &Reduction{
		SummarizedUpToIndex:     cut,
		MessageCountAtReduction: len(all),
		SummaryContent:          strings.TrimSpace(summary),
		CreatedAt:               time.Now(),
		MessageHash:             HashPrefix(all, cut),
		TargetMessageCount:      targetCount,
		ReductionThreshold:      threshold,
	}, nil
}
