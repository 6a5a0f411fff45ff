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
package protocol

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ArgumentError lists every schema violation found in tool arguments.
type ArgumentError struct {
	Violations []string
}

func (e *ArgumentError) Error() string {
	return "invalid arguments: " + strings.Join(e.Violations, "; ")
}

// ValidateToolArguments validates tool arguments against the tool's input schema.
func ValidateToolArguments(tool Tool, arguments map[string]interface{}) error {
	if len(tool.InputSchema) == 0 {
		return nil
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}

	schemaLoader := gojsonschema.NewGoLoader(tool.InputSchema)
	argsLoader := gojsonschema.NewGoLoader(arguments)

	result, err := gojsonschema.Validate(schemaLoader, argsLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		violations := make([]string, len(result.Errors()))
		for i, err := range result.Errors() {
			violations[i] = err.String()
		}
		return &ArgumentError{Violations: violations}
	}

	return nil
}

// ValidateMessage checks the envelope of an inbound message.
func ValidateMessage(msg *Message) error {
	if msg.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("invalid jsonrpc version: %q (expected %s)", msg.JSONRPC, JSONRPCVersion)
	}

	if msg.Method == "" && msg.Result == nil && msg.Error == nil {
		return fmt.Errorf("method is required")
	}

	if msg.Result != nil && msg.Error != nil {
		return fmt.Errorf("response must have exactly one of result or error")
	}

	return nil
}
