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
package tools

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/catalog"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/protocol"
)

// Descriptor builds the protocol-facing tool for t.
func Descriptor(t *catalog.MaterializedTool) protocol.Tool {
	def := t.Definition

	description := def.Description
	if def.DeprecationMessage != "" {
		description = fmt.Sprintf("[DEPRECATED: %s] %s", def.DeprecationMessage, description)
	}

	title := def.Title
	if title == "" {
		title = def.Name.Tool
	}

	tool := protocol.Tool{
		Name:        def.Name.Sanitized(),
		Title:       title,
		Description: description,
		InputSchema: InputSchema(def.Parameters),
		Annotations: &protocol.ToolAnnotations{
			Title:           title,
			ReadOnlyHint:    def.Behavior.ReadOnly,
			DestructiveHint: def.Behavior.Destructive,
			IdempotentHint:  def.Behavior.Idempotent,
			OpenWorldHint:   def.Behavior.OpenWorld,
		},
	}
	if def.Output != nil && def.Output.Schema != nil {
		tool.OutputSchema = outputSchema(def.Output.Schema)
	}
	if meta := arcadeMeta(def); meta != nil {
		tool.Meta = map[string]interface{}{"arcade": meta}
	}
	return tool
}

// InputSchema renders parameters as a closed JSON Schema object.
func InputSchema(params []catalog.Parameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	var required []interface{}
	for _, p := range params {
		prop := valueSchema(p.Schema)
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// outputSchema wraps non-object outputs so structuredContent stays an object.
func outputSchema(vs *catalog.ValueSchema) map[string]interface{} {
	inner := valueSchema(vs)
	if inner["type"] == "object" {
		return inner
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"result": inner},
	}
}

func valueSchema(vs *catalog.ValueSchema) map[string]interface{} {
	if vs == nil {
		return map[string]interface{}{"type": "string"}
	}
	schema := map[string]interface{}{"type": jsonType(vs.Type)}
	if vs.Description != "" {
		schema["description"] = vs.Description
	}
	if len(vs.Enum) > 0 {
		enum := make([]interface{}, len(vs.Enum))
		for i, v := range vs.Enum {
			enum[i] = v
		}
		schema["enum"] = enum
	}
	if vs.Type == catalog.TypeArray && vs.InnerType != "" {
		schema["items"] = map[string]interface{}{"type": jsonType(vs.InnerType)}
	}
	if vs.Type == catalog.TypeJSON && len(vs.Properties) > 0 {
		props := make(map[string]interface{}, len(vs.Properties))
		for name, ps := range vs.Properties {
			props[name] = valueSchema(ps)
		}
		schema["properties"] = props
	}
	return schema
}

func jsonType(t string) string {
	switch t {
	case catalog.TypeString, catalog.TypeInteger, catalog.TypeNumber, catalog.TypeBoolean, catalog.TypeArray:
		return t
	case catalog.TypeJSON:
		return "object"
	default:
		return "string"
	}
}

func arcadeMeta(def catalog.ToolDefinition) map[string]interface{} {
	meta := map[string]interface{}{}
	if !def.Requirements.Empty() {
		meta["requirements"] = toJSONMap(def.Requirements)
	}
	metadata := map[string]interface{}{}
	if b := toJSONMap(def.Behavior); len(b) > 0 {
		metadata["behavior"] = b
	}
	if len(def.Extras) > 0 {
		metadata["extras"] = def.Extras
	}
	if def.Datacache.Enabled() {
		keys := make([]string, len(def.Datacache.Keys))
		for i, k := range def.Datacache.Keys {
			keys[i] = string(k)
		}
		dc := map[string]interface{}{"keys": keys}
		if def.Datacache.TTL > 0 {
			dc["ttl"] = int64(def.Datacache.TTL.Seconds())
		}
		metadata["datacache"] = dc
	}
	if len(metadata) > 0 {
		meta["metadata"] = metadata
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func toJSONMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Content converts a tool return value to MCP content items.
func Content(value any) ([]protocol.Content, error) {
	switch v := value.(type) {
	case nil:
		return []protocol.Content{}, nil
	case string:
		return []protocol.Content{{Type: "text", Text: v}}, nil
	case []byte:
		return []protocol.Content{{Type: "text", Text: base64.StdEncoding.EncodeToString(v)}}, nil
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
		return []protocol.Content{{Type: "text", Text: fmt.Sprint(v)}}, nil
	case fmt.Stringer:
		return []protocol.Content{{Type: "text", Text: v.String()}}, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize tool output: %w", err)
		}
		return []protocol.Content{{Type: "text", Text: string(raw)}}, nil
	}
}

// StructuredContent converts a tool return value to a structuredContent
// object. Objects pass through; everything else is wrapped as {"result": v}.
func StructuredContent(value any) (map[string]interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return v, nil
	case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
		return map[string]interface{}{"result": v}, nil
	case []byte:
		return map[string]interface{}{"result": base64.StdEncoding.EncodeToString(v)}, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize tool output: %w", err)
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode tool output: %w", err)
	}
	if obj, ok := decoded.(map[string]interface{}); ok {
		return obj, nil
	}
	return map[string]interface{}{"result": decoded}, nil
}
