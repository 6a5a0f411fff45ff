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
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CRUD(t *testing.T) {
	ctx := context.Background()
	r := New[string, int]("tool")

	require.NoError(t, r.Upsert(ctx, "a", 1))
	require.NoError(t, r.Upsert(ctx, "b", 2))
	require.NoError(t, r.Upsert(ctx, "a", 10))

	v, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	assert.Equal(t, []string{"a", "b"}, r.Keys(ctx))
	assert.Equal(t, []int{10, 2}, r.List(ctx))

	removed, err := r.Remove(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 10, removed)
	assert.False(t, r.Has("a"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_NotFound(t *testing.T) {
	ctx := context.Background()
	r := New[string, int]("tool")

	_, err := r.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "tool missing")

	_, err = r.Remove(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistry_BulkLoad(t *testing.T) {
	ctx := context.Background()
	r := New[string, string]("prompt")
	require.NoError(t, r.Upsert(ctx, "x", "old"))

	err := r.BulkLoad(ctx, []Pair[string, string]{
		{Key: "x", Value: "new"},
		{Key: "y", Value: "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "y"}, r.List(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, r.BulkLoad(cancelled, []Pair[string, string]{{Key: "z"}}), context.Canceled)
	assert.False(t, r.Has("z"))
}

func TestRegistry_UpdateIsAtomic(t *testing.T) {
	r := New[string, int]("tool")
	shadow := map[string]bool{}

	err := r.Update(func(tx *Tx[string, int]) error {
		tx.Set("a", 1)
		shadow["a"] = true
		return nil
	})
	require.NoError(t, err)

	err = r.Update(func(tx *Tx[string, int]) error {
		if _, err := tx.Remove("a"); err != nil {
			return err
		}
		delete(shadow, "a")
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, shadow)
	assert.Equal(t, 0, r.Len())

	assert.Panics(t, func() {
		_ = r.View(func(tx *Tx[string, int]) error {
			tx.Set("b", 2)
			return nil
		})
	})
}

func TestRegistry_All(t *testing.T) {
	ctx := context.Background()
	r := New[string, int]("tool")
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Upsert(ctx, fmt.Sprintf("k%d", i), i))
	}

	var seen []int
	for _, v := range r.All() {
		if v == 3 {
			break
		}
		seen = append(seen, v)
	}
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	r := New[int, int]("tool")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Upsert(ctx, i, i)
			_, _ = r.Get(ctx, i)
			_ = r.List(ctx)
			if i%2 == 0 {
				_, _ = r.Remove(ctx, i)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Len())
	assert.Len(t, r.Keys(ctx), 25)
}
