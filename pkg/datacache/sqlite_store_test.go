// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package datacache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/toolerr"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), "", WithSQLiteLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func write(ns, table, id string, cols map[string]any, now time.Time) Write {
	return Write{Namespace: ns, Table: table, ID: id, Columns: cols, Now: now, Fence: 1}
}

func TestSQLiteStore_InsertThenUpdate(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	rec, err := s.Upsert(ctx, write("ns", "profiles", "1", map[string]any{"name": "Ada"}, t0))
	require.NoError(t, err)
	assert.Equal(t, ActionInserted, rec.Action)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
	assert.Equal(t, "Ada", rec.Record["name"])
	assert.Equal(t, "1", rec.Record[ColumnID])
	assert.NotContains(t, rec.Record, columnFence)
	require.NoError(t, rec.check())

	// Same wall clock: updated_at must still move forward.
	rec2, err := s.Upsert(ctx, write("ns", "profiles", "1", map[string]any{"name": "Grace", "team": "navy"}, t0))
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, rec2.Action)
	assert.Equal(t, rec.CreatedAt, rec2.CreatedAt)
	assert.True(t, rec2.UpdatedAt.After(rec.UpdatedAt))
	assert.Equal(t, "Grace", rec2.Record["name"])
	assert.Equal(t, "navy", rec2.Record["team"])

	// Clock stepping back is absorbed too.
	rec3, err := s.Upsert(ctx, write("ns", "profiles", "1", map[string]any{"name": "Hopper"}, t0.Add(-time.Hour)))
	require.NoError(t, err)
	assert.True(t, rec3.UpdatedAt.After(rec2.UpdatedAt))
	assert.Equal(t, "navy", rec3.Record["team"], "columns absent from a write keep their value")
}

func TestSQLiteStore_GetAndTTL(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	w := write("ns", "sessions", "a", map[string]any{"token": "x"}, t0)
	w.TTL = time.Minute
	_, err := s.Upsert(ctx, w)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, write("ns", "sessions", "b", map[string]any{"token": "y"}, t0))
	require.NoError(t, err)

	row, err := s.Get(ctx, "ns", "sessions", "a", t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(60), row[ColumnTTL])

	_, err = s.Get(ctx, "ns", "sessions", "a", t0.Add(2*time.Minute))
	assert.True(t, toolerr.IsNotFound(err), "expired rows are invisible")

	_, err = s.Get(ctx, "ns", "sessions", "b", t0.Add(24*time.Hour))
	assert.NoError(t, err, "no ttl never expires")

	_, err = s.Get(ctx, "ns", "missing_table", "a", t0)
	assert.True(t, toolerr.IsNotFound(err))

	n, err := s.Purge(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.Purge(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_Search(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	for id, name := range map[string]string{"1": "Ada Lovelace", "2": "Grace Hopper", "3": "100%_real"} {
		_, err := s.Upsert(ctx, write("ns", "people", id, map[string]any{"name": name}, t0))
		require.NoError(t, err)
	}

	rows, err := s.Search(ctx, "ns", "people", "name", "LOVE", t0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0][ColumnID])

	rows, err = s.Search(ctx, "ns", "people", "name", "%_", t0)
	require.NoError(t, err)
	require.Len(t, rows, 1, "LIKE wildcards in the term are literal")
	assert.Equal(t, "3", rows[0][ColumnID])

	rows, err = s.Search(ctx, "ns", "people", "id", "2", t0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = s.Search(ctx, "ns", "people", "nickname", "a", t0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = s.Search(ctx, "other", "people", "name", "a", t0)
	require.NoError(t, err)
	assert.Empty(t, rows, "namespaces are isolated")

	_, err = s.Search(ctx, "ns", "people", `name" OR 1=1 --`, "a", t0)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestSQLiteStore_StaleFence(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	w := write("ns", "t", "1", map[string]any{"v": "new"}, t0)
	w.Fence = 5
	_, err := s.Upsert(ctx, w)
	require.NoError(t, err)

	stale := write("ns", "t", "1", map[string]any{"v": "old"}, t0)
	stale.Fence = 4
	_, err = s.Upsert(ctx, stale)
	assert.ErrorIs(t, err, ErrStaleFence)

	row, err := s.Get(ctx, "ns", "t", "1", t0)
	require.NoError(t, err)
	assert.Equal(t, "new", row["v"])
}

func TestSQLiteStore_InvalidIdentifiers(t *testing.T) {
	s := newSQLiteStore(t)
	_, err := s.Upsert(context.Background(), write("ns", "bad-table", "1", nil, t0))
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = s.Upsert(context.Background(), write("ns", "t", "1", map[string]any{"bad col": "x"}, t0))
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestSQLiteStore_ColumnNamesIgnoreCase(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, write("ns", "people", "1", map[string]any{"Name": "Ada"}, t0))
	require.NoError(t, err)

	// A later record spelling the column differently writes the same column.
	rec, err := s.Upsert(ctx, write("ns", "people", "1", map[string]any{"name": "Grace"}, t0.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, rec.Action)
	assert.Equal(t, "Grace", rec.Record["Name"])
	assert.NotContains(t, rec.Record, "name")

	_, err = s.Upsert(ctx, write("ns", "people", "2", map[string]any{"NAME": "Hopper"}, t0))
	require.NoError(t, err)
	found, err := s.Search(ctx, "ns", "people", "name", "hop", t0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "2", found[0][ColumnID])

	_, err = s.Upsert(ctx, write("ns", "people", "3", map[string]any{"Team": "a", "team": "b"}, t0))
	assert.ErrorIs(t, err, ErrDuplicateColumn)
}

func TestFlatten_DuplicateColumns(t *testing.T) {
	_, err := flatten(map[string]any{"id": "1", "Name": "a", "name": "b"}, ColumnID)
	require.ErrorIs(t, err, ErrDuplicateColumn)
	assert.Contains(t, err.Error(), `"Name" and "name"`)

	cols, err := flatten(map[string]any{"id": "1", "Name": "a", "team": "b"}, ColumnID)
	require.NoError(t, err)
	assert.Len(t, cols, 2)
}

func TestSQLiteStore_Snapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	storage, err := NewLocalSnapshotStorage(filepath.Join(dir, "snapshots"), zaptest.NewLogger(t))
	require.NoError(t, err)

	src, err := NewSQLiteStore(ctx, filepath.Join(dir, "a", "cache.db"))
	require.NoError(t, err)
	_, err = src.Upsert(ctx, write("ns", "t", "1", map[string]any{"v": "kept"}, t0))
	require.NoError(t, err)
	require.NoError(t, src.SaveSnapshot(ctx, storage, "digest-1"))
	require.NoError(t, src.Close())
	assert.FileExists(t, storage.Location("digest-1"))

	restored, err := OpenSQLiteStoreFromSnapshot(ctx, storage, "digest-1", filepath.Join(dir, "b", "cache.db"))
	require.NoError(t, err)
	defer restored.Close()
	row, err := restored.Get(ctx, "ns", "t", "1", t0)
	require.NoError(t, err)
	assert.Equal(t, "kept", row["v"])

	fresh, err := OpenSQLiteStoreFromSnapshot(ctx, storage, "digest-unknown", filepath.Join(dir, "c", "cache.db"))
	require.NoError(t, err)
	defer fresh.Close()
	_, err = fresh.Get(ctx, "ns", "t", "1", t0)
	assert.True(t, toolerr.IsNotFound(err))

	_, err = OpenSQLiteStoreFromSnapshot(ctx, storage, "digest-1", "")
	assert.Error(t, err)
}
