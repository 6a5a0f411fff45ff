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
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrDuplicateTool is returned by Add for a name and version already present.
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrToolNotFound is returned by Get and Remove.
	ErrToolNotFound = errors.New("tool not found")
)

// Catalog is a versioned set of tools supplied by toolkits. Several versions
// of one tool may coexist; a lookup without a version returns the most
// recently added one.
type Catalog struct {
	mu       sync.RWMutex
	versions map[string][]*MaterializedTool // Name.Key() -> versions in load order
	order    []string
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{versions: make(map[string][]*MaterializedTool)}
}

// Add registers a tool. The definition must carry a fully qualified name and fn must be non-nil.
func (c *Catalog) Add(def ToolDefinition, fn Func) error {
	if def.Name.Toolkit == "" || def.Name.Tool == "" {
		return fmt.Errorf("tool definition has no fully qualified name")
	}
	if fn == nil {
		return fmt.Errorf("tool %s has no executable", def.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := def.Name.Key()
	for _, existing := range c.versions[key] {
		if existing.Definition.Name.Version == def.Name.Version {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name.Versioned())
		}
	}
	if _, ok := c.versions[key]; !ok {
		c.order = append(c.order, key)
	}
	c.versions[key] = append(c.versions[key], &MaterializedTool{Definition: def, Func: fn})
	return nil
}

// Get resolves name. An empty version matches the latest loaded version.
func (c *Catalog) Get(name Name) (*MaterializedTool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	versions := c.versions[name.Key()]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name.Versioned())
	}
	if name.Version == "" {
		return versions[len(versions)-1], nil
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Definition.Name.Matches(name) {
			return versions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name.Versioned())
}

// Remove deletes name. An empty version removes every version.
func (c *Catalog) Remove(name Name) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := name.Key()
	versions := c.versions[key]
	kept := versions[:0:0]
	for _, t := range versions {
		if name.Version != "" && !t.Definition.Name.Matches(name) {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(versions) {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name.Versioned())
	}
	if len(kept) > 0 {
		c.versions[key] = kept
		return nil
	}
	delete(c.versions, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Tools returns the latest version of every tool in load order.
func (c *Catalog) Tools() []*MaterializedTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*MaterializedTool, 0, len(c.order))
	for _, key := range c.order {
		versions := c.versions[key]
		out = append(out, versions[len(versions)-1])
	}
	return out
}

// Toolkits returns the distinct toolkit names, sorted.
func (c *Catalog) Toolkits() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, versions := range c.versions {
		tk := versions[0].Definition.Name.Toolkit
		if !seen[strings.ToLower(tk)] {
			seen[strings.ToLower(tk)] = true
			out = append(out, tk)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of distinct tool names.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.versions)
}

type digestEntry struct {
	Name       string         `json:"name"`
	Version    string         `json:"version,omitempty"`
	Definition ToolDefinition `json:"definition"`
}

// Digest is a content hash of every tool version in the catalog. It does not
// depend on insertion order and changes when a tool is added, removed or
// redefined. Names are hashed case-folded.
func (c *Catalog) Digest() (string, error) {
	c.mu.RLock()
	entries := make([]digestEntry, 0, len(c.versions))
	for key, versions := range c.versions {
		for _, t := range versions {
			entries = append(entries, digestEntry{
				Name:       key,
				Version:    t.Definition.Name.Version,
				Definition: t.Definition,
			})
		}
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Version < entries[j].Version
	})

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return "", fmt.Errorf("failed to encode %s for digest: %w", e.Name, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
