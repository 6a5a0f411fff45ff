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

// Package registry provides a concurrent-safe keyed store used by the
// component managers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
)

// ErrNotFound is returned when a key is not present.
var ErrNotFound = errors.New("not found")

// Pair is one entry for BulkLoad.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// Registry is a concurrent-safe map that preserves insertion order.
// Mutations are serialized by a single RWMutex and reads observe a state
// produced by fully applied mutations only.
type Registry[K comparable, V any] struct {
	name  string
	mu    sync.RWMutex
	data  map[K]V
	order []K
}

// New creates an empty registry. name is used in error messages.
func New[K comparable, V any](name string) *Registry[K, V] {
	return &Registry[K, V]{
		name: name,
		data: make(map[K]V),
	}
}

// BulkLoad inserts or replaces all pairs as one mutation.
func (r *Registry[K, V]) BulkLoad(ctx context.Context, pairs []Pair[K, V]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pairs {
		r.setLocked(p.Key, p.Value)
	}
	return nil
}

// Upsert inserts or replaces the value stored under key.
func (r *Registry[K, V]) Upsert(ctx context.Context, key K, value V) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLocked(key, value)
	return nil
}

// Get returns the value stored under key or ErrNotFound.
func (r *Registry[K, V]) Get(ctx context.Context, key K) (V, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%s %v: %w", r.name, key, ErrNotFound)
	}
	return v, nil
}

// Remove deletes key and returns its value, or ErrNotFound.
func (r *Registry[K, V]) Remove(ctx context.Context, key K) (V, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(key)
}

// List returns all values in insertion order.
func (r *Registry[K, V]) List(ctx context.Context) []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]V, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.data[k])
	}
	return out
}

// Keys returns all keys in insertion order.
func (r *Registry[K, V]) Keys(ctx context.Context) []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]K, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether key is present.
func (r *Registry[K, V]) Has(key K) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.data[key]
	return ok
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// All returns an iterator over a snapshot of the entries in insertion order.
func (r *Registry[K, V]) All() iter.Seq2[K, V] {
	r.mu.RLock()
	keys := make([]K, len(r.order))
	copy(keys, r.order)
	vals := make([]V, len(keys))
	for i, k := range keys {
		vals[i] = r.data[k]
	}
	r.mu.RUnlock()

	return func(yield func(K, V) bool) {
		for i, k := range keys {
			if !yield(k, vals[i]) {
				return
			}
		}
	}
}

// Update runs fn while holding the write lock so callers can apply a
// mutation together with state that must stay consistent with it. fn
// receives a Tx bound to this registry; it must not retain it.
func (r *Registry[K, V]) Update(fn func(tx *Tx[K, V]) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&Tx[K, V]{r: r})
}

// View runs fn while holding the read lock.
func (r *Registry[K, V]) View(fn func(tx *Tx[K, V]) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(&Tx[K, V]{r: r, readOnly: true})
}

func (r *Registry[K, V]) setLocked(key K, value V) {
	if _, exists := r.data[key]; !exists {
		r.order = append(r.order, key)
	}
	r.data[key] = value
}

func (r *Registry[K, V]) removeLocked(key K) (V, error) {
	v, ok := r.data[key]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%s %v: %w", r.name, key, ErrNotFound)
	}
	delete(r.data, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return v, nil
}

// Tx exposes registry operations inside Update or View.
type Tx[K comparable, V any] struct {
	r        *Registry[K, V]
	readOnly bool
}

// Get returns the value for key.
func (tx *Tx[K, V]) Get(key K) (V, bool) {
	v, ok := tx.r.data[key]
	return v, ok
}

// Set inserts or replaces key. Panics inside View.
func (tx *Tx[K, V]) Set(key K, value V) {
	if tx.readOnly {
		panic("registry: Set called inside View")
	}
	tx.r.setLocked(key, value)
}

// Remove deletes key. Panics inside View.
func (tx *Tx[K, V]) Remove(key K) (V, error) {
	if tx.readOnly {
		panic("registry: Remove called inside View")
	}
	return tx.r.removeLocked(key)
}

// Keys returns the keys in insertion order.
func (tx *Tx[K, V]) Keys() []K {
	out := make([]K, len(tx.r.order))
	copy(out, tx.r.order)
	return out
}
