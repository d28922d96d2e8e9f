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

package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelrun/agentloop/pkg/checkpoint"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := checkpoint.Document{
		ThreadID:  "thread-1",
		ETag:      "etag-1",
		StateJSON: []byte(`{"iteration":1}`),
		SavedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Save(ctx, doc, ""))

	loaded, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, doc.ETag, loaded.ETag)
	assert.Equal(t, doc.StateJSON, loaded.StateJSON)
}

func TestLoadMissingThreadReturnsNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Load(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestSaveDetectsConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := checkpoint.Document{ThreadID: "thread-1", ETag: "etag-1", StateJSON: []byte(`{}`), SavedAt: time.Now()}
	require.NoError(t, store.Save(ctx, doc, ""))

	conflicting := checkpoint.Document{ThreadID: "thread-1", ETag: "etag-2", StateJSON: []byte(`{}`), SavedAt: time.Now()}
	err := store.Save(ctx, conflicting, "wrong-etag")
	assert.ErrorIs(t, err, checkpoint.ErrConflict)
}

func TestSaveAllowsUpdateWithCorrectPrevETag(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := checkpoint.Document{ThreadID: "thread-1", ETag: "etag-1", StateJSON: []byte(`{"iteration":1}`), SavedAt: time.Now()}
	require.NoError(t, store.Save(ctx, first, ""))

	second := checkpoint.Document{ThreadID: "thread-1", ETag: "etag-2", StateJSON: []byte(`{"iteration":2}`), SavedAt: time.Now()}
	require.NoError(t, store.Save(ctx, second, "etag-1"))

	loaded, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "etag-2", loaded.ETag)
}

func TestSaveOnBrandNewThreadRejectsNonEmptyPrevETag(t *testing.T) {
	store := openTestStore(t)
	doc := checkpoint.Document{ThreadID: "thread-new", ETag: "etag-1", StateJSON: []byte(`{}`), SavedAt: time.Now()}
	err := store.Save(context.Background(), doc, "some-stale-etag")
	assert.ErrorIs(t, err, checkpoint.ErrConflict)
}

func TestClearRemovesCheckpointAndPendingWrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := checkpoint.Document{ThreadID: "thread-1", ETag: "etag-1", StateJSON: []byte(`{}`), SavedAt: time.Now()}
	require.NoError(t, store.Save(ctx, doc, ""))
	require.NoError(t, store.SavePendingWrite(ctx, PendingWrite{
		ThreadID: "thread-1", CallID: "call-1", FunctionName: "add",
		ResultJSON: `{"sum":4}`, CompletedAt: time.Now(), Iteration: 1,
	}))

	require.NoError(t, store.Clear(ctx, "thread-1"))

	_, err := store.Load(ctx, "thread-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	pending, err := store.PendingWrites(ctx, "thread-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPendingWriteLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	pw := PendingWrite{ThreadID: "thread-1", CallID: "call-1", FunctionName: "add", ResultJSON: `{"sum":4}`, CompletedAt: time.Now(), Iteration: 1}
	require.NoError(t, store.SavePendingWrite(ctx, pw))

	pending, err := store.PendingWrites(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "call-1", pending[0].CallID)

	require.NoError(t, store.ClearPendingWrite(ctx, "thread-1", "call-1"))

	pending, err = store.PendingWrites(ctx, "thread-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPendingWriteUpsertOverwritesResult(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := PendingWrite{ThreadID: "thread-1", CallID: "call-1", FunctionName: "add", ResultJSON: `{"sum":1}`, CompletedAt: time.Now(), Iteration: 1}
	require.NoError(t, store.SavePendingWrite(ctx, first))

	updated := PendingWrite{ThreadID: "thread-1", CallID: "call-1", FunctionName: "add", ResultJSON: `{"sum":2}`, CompletedAt: time.Now(), Iteration: 2}
	require.NoError(t, store.SavePendingWrite(ctx, updated))

	pending, err := store.PendingWrites(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, `{"sum":2}`, pending[0].ResultJSON)
}
