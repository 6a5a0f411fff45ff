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

// Package tools owns the served tool set: the registry of materialized
// tools and the sanitized alias index MCP clients address them by.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/catalog"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/protocol"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/registry"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/toolerr"
)

// ErrAliasConflict is returned when two different tools sanitize to the same name.
var ErrAliasConflict = errors.New("sanitized tool name conflict")

// ManagedTool is one registry entry.
type ManagedTool struct {
	Tool       *catalog.MaterializedTool
	Descriptor protocol.Tool
}

// Manager serves tools by fully qualified or sanitized name. The registry
// and the alias index are only mutated together, under the registry's
// write lock, so no reader observes one without the other.
type Manager struct {
	registry *registry.Registry[string, ManagedTool]
	aliases  map[string]string // lower(sanitized) -> registry key
	logger   *zap.Logger

	listenersMu sync.RWMutex
	listeners   []func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an empty tool manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		registry: registry.New[string, ManagedTool]("tool"),
		aliases:  make(map[string]string),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnChange registers fn to run after every successful mutation.
func (m *Manager) OnChange(fn func()) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notify() {
	m.listenersMu.RLock()
	listeners := append([]func(){}, m.listeners...)
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func aliasOf(name string) string {
	return strings.ToLower(catalog.Sanitize(name))
}

// LoadFromCatalog converts every tool in cat and loads them as one mutation.
func (m *Manager) LoadFromCatalog(ctx context.Context, cat *catalog.Catalog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tools := cat.Tools()
	entries := make([]ManagedTool, len(tools))
	for i, t := range tools {
		entries[i] = ManagedTool{Tool: t, Descriptor: Descriptor(t)}
	}

	err := m.registry.Update(func(tx *registry.Tx[string, ManagedTool]) error {
		staged := make(map[string]string, len(entries))
		for _, e := range entries {
			key := e.Tool.Name().Key()
			alias := aliasOf(e.Tool.Name().String())
			if err := m.checkAliasLocked(alias, key, staged); err != nil {
				return err
			}
			staged[alias] = key
		}
		for _, e := range entries {
			key := e.Tool.Name().Key()
			tx.Set(key, e)
			m.aliases[aliasOf(e.Tool.Name().String())] = key
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("loaded tools from catalog", zap.Int("count", len(entries)))
	m.notify()
	return nil
}

func (m *Manager) checkAliasLocked(alias, key string, staged map[string]string) error {
	if owner, ok := m.aliases[alias]; ok && owner != key {
		return fmt.Errorf("%w: %q is used by %s", ErrAliasConflict, alias, owner)
	}
	if owner, ok := staged[alias]; ok && owner != key {
		return fmt.Errorf("%w: %q is used by %s", ErrAliasConflict, alias, owner)
	}
	return nil
}

// AddTool inserts or replaces t. Calling it twice with the same tool is a no-op.
func (m *Manager) AddTool(ctx context.Context, t *catalog.MaterializedTool) error {
	return m.upsert(ctx, t)
}

// UpdateTool replaces t, inserting it when absent.
func (m *Manager) UpdateTool(ctx context.Context, t *catalog.MaterializedTool) error {
	return m.upsert(ctx, t)
}

func (m *Manager) upsert(ctx context.Context, t *catalog.MaterializedTool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil || t.Func == nil {
		return fmt.Errorf("tool has no executable")
	}
	entry := ManagedTool{Tool: t, Descriptor: Descriptor(t)}
	key := t.Name().Key()
	alias := aliasOf(t.Name().String())

	err := m.registry.Update(func(tx *registry.Tx[string, ManagedTool]) error {
		if err := m.checkAliasLocked(alias, key, nil); err != nil {
			return err
		}
		tx.Set(key, entry)
		m.aliases[alias] = key
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Debug("tool registered", zap.String("tool", t.Name().Versioned()))
	m.notify()
	return nil
}

// RemoveTool deletes the tool addressed by its exact or sanitized name.
func (m *Manager) RemoveTool(ctx context.Context, name string) (*catalog.MaterializedTool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var removed ManagedTool
	err := m.registry.Update(func(tx *registry.Tx[string, ManagedTool]) error {
		key, ok := m.resolveLocked(name, func(k string) bool {
			_, found := tx.Get(k)
			return found
		})
		if !ok {
			return toolerr.NewNotFound("tool", name)
		}
		var err error
		removed, err = tx.Remove(key)
		if err != nil {
			return toolerr.NewNotFound("tool", name)
		}
		delete(m.aliases, aliasOf(removed.Tool.Name().String()))
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("tool removed", zap.String("tool", removed.Tool.Name().String()))
	m.notify()
	return removed.Tool, nil
}

// GetTool resolves name by exact fully qualified name first, then through
// the alias index. A version in name must match the registered version.
func (m *Manager) GetTool(ctx context.Context, name string) (*catalog.MaterializedTool, error) {
	entry, err := m.get(name)
	if err != nil {
		return nil, err
	}
	return entry.Tool, nil
}

// GetManaged is GetTool that also returns the protocol descriptor.
func (m *Manager) GetManaged(ctx context.Context, name string) (ManagedTool, error) {
	return m.get(name)
}

func (m *Manager) get(name string) (ManagedTool, error) {
	var entry ManagedTool
	err := m.registry.View(func(tx *registry.Tx[string, ManagedTool]) error {
		key, ok := m.resolveLocked(name, func(k string) bool {
			_, found := tx.Get(k)
			return found
		})
		if !ok {
			return toolerr.NewNotFound("tool", name)
		}
		e, found := tx.Get(key)
		if !found {
			panic(fmt.Sprintf("tools: alias index references missing registry key %q", key))
		}
		if want, err := catalog.ParseName(name); err == nil && want.Version != "" {
			if !e.Tool.Name().Matches(want) {
				return toolerr.NewNotFound("tool", name)
			}
		}
		entry = e
		return nil
	})
	return entry, err
}

// resolveLocked maps name to a registry key. Caller holds the registry lock.
func (m *Manager) resolveLocked(name string, exists func(string) bool) (string, bool) {
	if n, err := catalog.ParseName(name); err == nil {
		if key := n.Key(); exists(key) {
			return key, true
		}
	}
	alias := strings.ToLower(name)
	if at := strings.LastIndex(alias, "@"); at > 0 {
		alias = alias[:at]
	}
	key, ok := m.aliases[aliasOf(alias)]
	return key, ok
}

// ListTools returns the descriptors of all tools in registration order.
func (m *Manager) ListTools(ctx context.Context) []protocol.Tool {
	entries := m.registry.List(ctx)
	out := make([]protocol.Tool, len(entries))
	for i, e := range entries {
		out[i] = e.Descriptor
	}
	return out
}

// Len returns the number of registered tools.
func (m *Manager) Len() int {
	return m.registry.Len()
}

// Snapshot returns the registry keys and a copy of the alias index taken
// under one read lock.
func (m *Manager) Snapshot() (keys []string, aliases map[string]string) {
	_ = m.registry.View(func(tx *registry.Tx[string, ManagedTool]) error {
		keys = tx.Keys()
		aliases = make(map[string]string, len(m.aliases))
		for k, v := range m.aliases {
			aliases[k] = v
		}
		return nil
	})
	return keys, aliases
}
