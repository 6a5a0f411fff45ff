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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewJanitor_Validation(t *testing.T) {
	_, err := NewJanitor(nil, "", nil)
	assert.Error(t, err)

	_, err = NewJanitor(newSQLiteStore(t), "every now and then", nil)
	assert.Error(t, err)

	j, err := NewJanitor(newSQLiteStore(t), "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPurgeSchedule, j.schedule)
}

func TestJanitor_RunOnce(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	w := write("ns", "t", "short", map[string]any{"v": "1"}, t0)
	w.TTL = time.Second
	_, err := store.Upsert(ctx, w)
	require.NoError(t, err)
	_, err = store.Upsert(ctx, write("ns", "t", "forever", map[string]any{"v": "2"}, t0))
	require.NoError(t, err)

	j, err := NewJanitor(store, "@every 1h", zaptest.NewLogger(t))
	require.NoError(t, err)
	j.now = func() time.Time { return t0.Add(time.Minute) }

	n, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, "ns", "t", "forever", t0.Add(time.Minute))
	assert.NoError(t, err)
}

func TestJanitor_StartStop(t *testing.T) {
	j, err := NewJanitor(newSQLiteStore(t), "@every 1h", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, j.Next().IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, j.Start(ctx))
	assert.Error(t, j.Start(ctx), "double start")

	assert.Eventually(t, func() bool { return !j.Next().IsZero() }, time.Second, 10*time.Millisecond)
	assert.WithinDuration(t, time.Now().Add(time.Hour), j.Next(), time.Minute)

	j.Stop()
	assert.True(t, j.Next().IsZero())
	j.Stop()

	// Cancelling the start context also stops a restarted janitor.
	ctx2, cancel2 := context.WithCancel(context.Background())
	require.NoError(t, j.Start(ctx2))
	cancel2()
	assert.Eventually(t, func() bool { return j.Next().IsZero() }, time.Second, 10*time.Millisecond)
}
