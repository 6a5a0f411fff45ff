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

package server

import (
	"context"
	"sync"
	"time"
)

// TaskKey addresses an in-flight request. Request ids are only unique
// within the protocol session that sent them.
type TaskKey struct {
	SessionID string
	// RequestID is protocol.RequestID.Key(); empty for notifications.
	RequestID string
}

// Task is one in-flight request, tracked from dispatch until it finishes
// or is cancelled.
type Task struct {
	Key     TaskKey
	Method  string
	Started   time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	seq     uint64
	tracker *TaskTracker
}

// Context is cancelled when the task is cancelled.
func (t *Task) Context() context.Context { return t.ctx }

// Done removes the task from its tracker. Safe to call more than once.
func (t *Task) Done() {
	t.cancel()
	t.tracker.finish(t)
}

// TaskTracker owns every in-flight task of a server.
type TaskTracker struct {
	mu        sync.Mutex
	tasks     map[uint64]*Task
	byRequest map[TaskKey]*Task
	next      uint64
	closed    bool
	idle      chan struct{}
}

// NewTaskTracker creates an empty tracker.
func NewTaskTracker() *TaskTracker {
	idle := make(chan struct{})
	close(idle)
	return &TaskTracker{
		tasks:     make(map[uint64]*Task),
		byRequest: make(map[TaskKey]*Task),
		idle:      idle,
	}
}

// Start registers a task whose context derives from parent. It returns
// false once the tracker is closed.
func (tt *TaskTracker) Start(parent context.Context, key TaskKey, method string) (*Task, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.closed {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	tt.next++
	task := &Task{
		Key:     key,
		Method:  method,
		Started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		seq:     tt.next,
		tracker: tt,
	}
	if len(tt.tasks) == 0 {
		tt.idle = make(chan struct{})
	}
	tt.tasks[task.seq] = task
	if key.RequestID != "" {
		tt.byRequest[key] = task
	}
	return task, true
}

func (tt *TaskTracker) finish(task *Task) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if _, ok := tt.tasks[task.seq]; !ok {
		return
	}
	delete(tt.tasks, task.seq)
	if cur, ok := tt.byRequest[task.Key]; ok && cur == task {
		delete(tt.byRequest, task.Key)
	}
	if len(tt.tasks) == 0 {
		close(tt.idle)
	}
}

// Cancel cancels the task registered under key, if any.
func (tt *TaskTracker) Cancel(key TaskKey) bool {
	if key.RequestID == "" {
		return false
	}
	tt.mu.Lock()
	task, ok := tt.byRequest[key]
	tt.mu.Unlock()
	if ok {
		task.cancel()
	}
	return ok
}

// CancelAll cancels every tracked task and returns how many there were.
// Tasks stay tracked until their goroutines call Done.
func (tt *TaskTracker) CancelAll() int {
	tt.mu.Lock()
	tasks := make([]*Task, 0, len(tt.tasks))
	for _, task := range tt.tasks {
		tasks = append(tasks, task)
	}
	tt.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}
	return len(tasks)
}

// Len returns the number of in-flight tasks.
func (tt *TaskTracker) Len() int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return len(tt.tasks)
}

// Close refuses new tasks.
func (tt *TaskTracker) Close() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.closed = true
}

// Idle returns a channel closed when no task is in flight.
func (tt *TaskTracker) Idle() <-chan struct{} {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.idle
}

// Wait blocks until no task is in flight or ctx is done.
func (tt *TaskTracker) Wait(ctx context.Context) error {
	select {
	case <-tt.Idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
