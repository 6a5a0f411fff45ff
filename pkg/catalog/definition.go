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

// Package catalog holds tool definitions and their executables as supplied
// by toolkits. The definitions are plain values built once at registration
// time; the MCP layer converts them into protocol descriptors.
package catalog

import (
	"context"
	"strings"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/datacache"
)

// Value types accepted in parameter and output schemas.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeJSON    = "json"
	TypeArray   = "array"
)

// ValueSchema describes the shape of a parameter or output value.
type ValueSchema struct {
	Type        string                  `json:"type"`
	InnerType   string                  `json:"inner_type,omitempty"`
	Enum        []string                `json:"enum,omitempty"`
	Properties  map[string]*ValueSchema `json:"properties,omitempty"`
	Description string                  `json:"description,omitempty"`
}

// Parameter is one named tool input.
type Parameter struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Required    bool         `json:"required"`
	Schema      *ValueSchema `json:"schema,omitempty"`
}

// Output describes a tool's return value.
type Output struct {
	Description string       `json:"description,omitempty"`
	Schema      *ValueSchema `json:"schema,omitempty"`
}

// Behavior carries hints about side effects. Nil means unknown.
type Behavior struct {
	ReadOnly    *bool `json:"read_only,omitempty"`
	Destructive *bool `json:"destructive,omitempty"`
	Idempotent  *bool `json:"idempotent,omitempty"`
	OpenWorld   *bool `json:"open_world,omitempty"`
}

// Authorization names an OAuth provider a tool needs a token from.
type Authorization struct {
	ProviderID   string   `json:"provider_id,omitempty"`
	ProviderType string   `json:"provider_type,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Requirements lists what the caller must supply for a tool to run.
type Requirements struct {
	Authorization *Authorization `json:"authorization,omitempty"`
	Secrets       []string       `json:"secrets,omitempty"`
	Metadata      []string       `json:"metadata,omitempty"`
}

// Empty reports whether no requirements are declared.
func (r Requirements) Empty() bool {
	return r.Authorization == nil && len(r.Secrets) == 0 && len(r.Metadata) == 0
}

// ToolDefinition is the immutable description of one tool.
type ToolDefinition struct {
	Name               Name              `json:"-"`
	Title              string            `json:"title,omitempty"`
	Description        string            `json:"description"`
	Parameters         []Parameter       `json:"parameters,omitempty"`
	Output             *Output           `json:"output,omitempty"`
	Behavior           Behavior          `json:"behavior"`
	Requirements       Requirements      `json:"requirements"`
	DeprecationMessage string            `json:"deprecation_message,omitempty"`
	Datacache          *datacache.Config `json:"datacache,omitempty"`
	Extras             map[string]any    `json:"extras,omitempty"`
}

// ToolContext is what a tool receives besides its arguments.
type ToolContext struct {
	// UserID identifies the end user on whose behalf the tool runs.
	UserID string

	// Metadata carries caller-supplied identity such as organization and project.
	Metadata map[string]string

	// Secrets holds the secrets the tool declared in its requirements.
	Secrets map[string]string

	// Cache is set when the tool declared datacache keys.
	Cache Cache
}

// Secret returns the named secret, matching case-insensitively.
func (tc *ToolContext) Secret(name string) (string, bool) {
	if tc == nil {
		return "", false
	}
	if v, ok := tc.Secrets[name]; ok {
		return v, true
	}
	for k, v := range tc.Secrets {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Cache is the datacache handle given to a tool, bound to the caller's identity.
type Cache interface {
	Set(ctx context.Context, table string, record map[string]any, idColumn string) (datacache.Record, error)
	Get(ctx context.Context, table, id string) (map[string]any, error)
	Search(ctx context.Context, table, column, term string) ([]map[string]any, error)
}

// Func is the executable part of a tool. The runtime treats it as opaque.
type Func func(ctx context.Context, tc *ToolContext, args map[string]any) (any, error)

// MaterializedTool pairs a definition with its executable.
type MaterializedTool struct {
	Definition ToolDefinition
	Func       Func
}

// Name returns the tool's fully qualified name.
func (t *MaterializedTool) Name() Name {
	return t.Definition.Name
}
