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

// Package datacache provides a keyed, TTL-bound cache for tool side effects.
// Writes for one identity, table and id are serialized through the
// distributed lock service so replicas sharing a store never interleave.
package datacache

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Key is one identity dimension a tool can scope its cache by.
type Key string

const (
	KeyOrganization Key = "organization"
	KeyProject      Key = "project"
	KeyUserID       Key = "user_id"
)

// Default identity values used when the caller omits organization or project.
const (
	DefaultOrganization = "default"
	DefaultProject      = "default"
)

// ErrConfig is wrapped by every configuration error in this package.
var ErrConfig = errors.New("datacache config")

// Config is the per-tool datacache declaration.
type Config struct {
	// Keys are the identity dimensions, normalized and de-duplicated.
	// A nil Keys disables the datacache for the tool.
	Keys []Key `json:"keys,omitempty" yaml:"keys,omitempty"`

	// TTL is the default row lifetime. Zero means rows never expire.
	TTL time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// Enabled reports whether the tool declared datacache keys.
func (c *Config) Enabled() bool {
	return c != nil && c.Keys != nil
}

// ParseConfig normalizes a raw declaration such as {"keys": [...], "ttl": 3600}.
// A nil or empty map returns a nil Config.
func ParseConfig(raw map[string]any) (*Config, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	cfg := &Config{}
	if v, ok := raw["keys"]; ok {
		keys, err := normalizeKeys(v)
		if err != nil {
			return nil, err
		}
		cfg.Keys = keys
	}
	if v, ok := raw["ttl"]; ok && v != nil {
		ttl, err := normalizeTTL(v)
		if err != nil {
			return nil, err
		}
		cfg.TTL = ttl
	}
	return cfg, nil
}

// NewConfig builds a Config from typed keys, applying the same normalization as ParseConfig.
func NewConfig(ttl time.Duration, keys ...string) (*Config, error) {
	if ttl < 0 {
		return nil, fmt.Errorf("%w: ttl must be non-negative", ErrConfig)
	}
	raw := make([]any, len(keys))
	for i, k := range keys {
		raw[i] = k
	}
	normalized, err := normalizeKeys(raw)
	if err != nil {
		return nil, err
	}
	return &Config{Keys: normalized, TTL: ttl}, nil
}

func normalizeKeys(v any) ([]Key, error) {
	var items []string
	switch t := v.(type) {
	case []string:
		items = t
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: keys must be a list of strings", ErrConfig)
			}
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("%w: keys must be a list of strings", ErrConfig)
	}

	seen := make(map[Key]bool, len(items))
	out := make([]Key, 0, len(items))
	for _, item := range items {
		k := Key(strings.ToLower(strings.TrimSpace(item)))
		switch k {
		case KeyOrganization, KeyProject, KeyUserID:
		default:
			return nil, fmt.Errorf("%w: unsupported key %q, allowed: organization, project, user_id", ErrConfig, item)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out, nil
}

func normalizeTTL(v any) (time.Duration, error) {
	var secs int64
	switch t := v.(type) {
	case int:
		secs = int64(t)
	case int64:
		secs = t
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("%w: ttl must be a whole number of seconds", ErrConfig)
		}
		secs = int64(t)
	case time.Duration:
		if t < 0 {
			return 0, fmt.Errorf("%w: ttl must be non-negative", ErrConfig)
		}
		return t, nil
	default:
		return 0, fmt.Errorf("%w: ttl must be a non-negative integer (seconds)", ErrConfig)
	}
	if secs < 0 {
		return 0, fmt.Errorf("%w: ttl must be a non-negative integer (seconds)", ErrConfig)
	}
	return time.Duration(secs) * time.Second, nil
}
