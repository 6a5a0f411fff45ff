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
	"fmt"
	"strings"
)

// Name is a fully qualified tool name: Toolkit.Tool with an optional
// @Version suffix. Toolkit and Tool compare case-insensitively.
type Name struct {
	Toolkit string
	Tool    string
	Version string
}

// ParseName parses "Toolkit.Tool" or "Toolkit.Tool@Version".
func ParseName(s string) (Name, error) {
	s = strings.TrimSpace(s)
	var n Name
	if at := strings.LastIndex(s, "@"); at >= 0 {
		n.Version = s[at+1:]
		s = s[:at]
		if n.Version == "" {
			return Name{}, fmt.Errorf("invalid tool name %q: empty version", s)
		}
	}
	dot := strings.Index(s, ".")
	if dot <= 0 || dot == len(s)-1 {
		return Name{}, fmt.Errorf("invalid tool name %q: expected Toolkit.Tool", s)
	}
	n.Toolkit = s[:dot]
	n.Tool = s[dot+1:]
	return n, nil
}

// MustParseName is ParseName that panics on error. Intended for static registrations.
func MustParseName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// String returns Toolkit.Tool, without the version.
func (n Name) String() string {
	return n.Toolkit + "." + n.Tool
}

// Versioned returns Toolkit.Tool@Version, or String when no version is set.
func (n Name) Versioned() string {
	if n.Version == "" {
		return n.String()
	}
	return n.String() + "@" + n.Version
}

// Key is the canonical, version-less, lower-case registry key.
func (n Name) Key() string {
	return strings.ToLower(n.String())
}

// Sanitized is the protocol-safe rendering with dots replaced by underscores.
// Declared case is preserved.
func (n Name) Sanitized() string {
	return Sanitize(n.String())
}

// Matches reports whether n identifies other. Versions are compared only
// when both sides carry one.
func (n Name) Matches(other Name) bool {
	if !strings.EqualFold(n.Toolkit, other.Toolkit) || !strings.EqualFold(n.Tool, other.Tool) {
		return false
	}
	if n.Version == "" || other.Version == "" {
		return true
	}
	return n.Version == other.Version
}

// Sanitize replaces the characters MCP clients reject in tool names.
func Sanitize(name string) string {
	return strings.NewReplacer(".", "_", "@", "_").Replace(name)
}
