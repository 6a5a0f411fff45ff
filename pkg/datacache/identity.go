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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const maxSlugLen = 200

var slugRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Identity namespaces cache rows and lock keys. It is scoped to the
// toolkit so tools in one toolkit share tables.
//
// CacheKey is the readable form used in logs. Namespace is the JSON array
// [toolkit, organization, project, user] and is what stores partition on;
// unlike CacheKey it cannot collide when a part contains the separator.
type Identity struct {
	Toolkit   string
	Parts     map[Key]string
	CacheKey  string
	Namespace string
	Slug      string
}

// BuildIdentity resolves the identity for a call of toolFQN. Organization and
// project are read case-insensitively from metadata and default to "default";
// user_id must be non-empty when requested.
func BuildIdentity(toolFQN string, cfg *Config, userID string, metadata map[string]string) (Identity, error) {
	toolkit := toolFQN
	if i := strings.Index(toolFQN, "."); i >= 0 {
		toolkit = toolFQN[:i]
	}

	parts := make(map[Key]string)
	if cfg != nil {
		for _, k := range cfg.Keys {
			switch k {
			case KeyUserID:
				if userID == "" {
					return Identity{}, fmt.Errorf("%w: key user_id requested but user id is empty", ErrConfig)
				}
				parts[KeyUserID] = userID
			case KeyOrganization:
				parts[KeyOrganization] = lookupOr(metadata, "organization", DefaultOrganization)
			case KeyProject:
				parts[KeyProject] = lookupOr(metadata, "project", DefaultProject)
			}
		}
	}

	cacheKey := fmt.Sprintf("toolkit--%s--org--%s--project--%s--user--%s",
		toolkit, parts[KeyOrganization], parts[KeyProject], parts[KeyUserID])
	namespace, err := json.Marshal([]string{toolkit, parts[KeyOrganization], parts[KeyProject], parts[KeyUserID]})
	if err != nil {
		return Identity{}, fmt.Errorf("encode namespace: %w", err)
	}

	return Identity{
		Toolkit:   toolkit,
		Parts:     parts,
		CacheKey:  cacheKey,
		Namespace: string(namespace),
		Slug:      namespaceSlug(cacheKey, string(namespace)),
	}, nil
}

// namespaceSlug keeps the readable key as a prefix and appends a digest of
// the namespace, since slugging alone folds distinct parts together.
func namespaceSlug(cacheKey, namespace string) string {
	sum := sha256.Sum256([]byte(namespace))
	suffix := "-" + hex.EncodeToString(sum[:8])
	prefix := Slugify(cacheKey)
	if len(prefix)+len(suffix) > maxSlugLen {
		prefix = prefix[:maxSlugLen-len(suffix)]
	}
	return prefix + suffix
}

// LockKey returns the lock name for one row of table.
func (id Identity) LockKey(table, rowID string) string {
	return fmt.Sprintf("datacache:%s:%s:%s", id.Slug, table, rowID)
}

// Slugify makes value safe for file names and lock keys.
func Slugify(value string) string {
	value = strings.TrimSpace(value)
	value = slugRe.ReplaceAllString(value, "_")
	value = strings.Trim(value, "._-")
	if value == "" {
		value = "default"
	}
	if len(value) > maxSlugLen {
		value = value[:maxSlugLen]
	}
	return value
}

func lookupOr(metadata map[string]string, key, def string) string {
	for k, v := range metadata {
		if strings.EqualFold(k, key) && v != "" {
			return v
		}
	}
	return def
}
