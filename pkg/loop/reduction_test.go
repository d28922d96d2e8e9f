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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelrun/agentloop/pkg/message"
)

func makeHistory(n int) []*message.Message {
	out := make([]*message.Message, n)
	for i := range out {
		out[i] = message.New(message.RoleUser, message.Text("msg"))
	}
	return out
}

func TestShouldReduce(t *testing.T) {
	tests := []struct {
		name      string
		current   int
		target    int
		threshold int
		want      bool
	}{
		{"below threshold", 10, 40, 20, false},
		{"exactly at threshold", 60, 40, 20, true},
		{"above threshold", 100, 40, 20, true},
		{"target disabled", 1000, 0, 20, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldReduce(tt.current, tt.target, tt.threshold))
		})
	}
}

func TestNewReductionSummarizesOldestMessages(t *testing.T) {
	all := makeHistory(10)
	reducer := ReducerFunc(func(ctx context.Context, messages []*message.Message) (string, error) {
		return "summary of the past", nil
	})

	r, err := newReduction(context.Background(), reducer, all, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, r.SummarizedUpToIndex)
	assert.Equal(t, 10, r.MessageCountAtReduction)
	assert.Equal(t, "summary of the past", r.SummaryContent)
}

func TestNewReductionErrorsWhenNothingToCut(t *testing.T) {
	all := makeHistory(3)
	reducer := ReducerFunc(func(ctx context.Context, messages []*message.Message) (string, error) {
		return "x", nil
	})
	_, err := newReduction(context.Background(), reducer, all, 4, 2)
	assert.Error(t, err)
}

func TestReductionIsValidFor(t *testing.T) {
	r := &Reduction{MessageCountAtReduction: 10, ReductionThreshold: 5}
	assert.True(t, r.IsValidFor(10))
	assert.True(t, r.IsValidFor(15))
	assert.False(t, r.IsValidFor(16))
	assert.False(t, r.IsValidFor(5))

	var nilReduction *Reduction
	assert.False(t, nilReduction.IsValidFor(100))
}

func TestReductionVerifyIntegrityDetectsMutation(t *testing.T) {
	all := makeHistory(10)
	r := &Reduction{SummarizedUpToIndex: 6, MessageHash: HashPrefix(all, 6)}
	require.NoError(t, r.VerifyIntegrity(all))

	mutated := makeHistory(10)
	mutated[2] = message.New(message.RoleUser, message.Text("edited"))
	assert.Error(t, r.VerifyIntegrity(mutated))
}

func TestReductionApplyToMessages(t *testing.T) {
	all := makeHistory(10)
	r := &Reduction{
		SummarizedUpToIndex: 6,
		SummaryContent:      "earlier conversation summarized",
		MessageHash:         HashPrefix(all, 6),
	}
	out, err := r.ApplyToMessages(all)
	require.NoError(t, err)
	require.Len(t, out, 1+4)
	assert.Equal(t, message.RoleSystem, out[0].Role)
	assert.Equal(t, "earlier conversation summarized", message.TextContent(out[0]))
}

func TestReductionApplyToMessagesNilPassesThrough(t *testing.T) {
	all := makeHistory(5)
	var r *Reduction
	out, err := r.ApplyToMessages(all)
	require.NoError(t, err)
	assert.Equal(t, all, out)
}

func TestHashPrefixStableForSameContent(t *testing.T) {
	a := makeHistory(5)
	b := makeHistory(5)
	assert.Equal(t, HashPrefix(a, 3), HashPrefix(b, 3))
}
