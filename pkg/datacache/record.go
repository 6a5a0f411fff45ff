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
	"fmt"
	"time"
)

// Action says whether a Set created or replaced a row.
type Action string

const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
)

// Meta columns present on every cache row.
const (
	ColumnID        = "id"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
	ColumnTTL       = "ttl"

	columnFence = "_fence"
)

// Record is the outcome of a Set.
type Record struct {
	Table      string         `json:"table"`
	ID         string         `json:"id"`
	Action     Action         `json:"action"`
	Record     map[string]any `json:"record"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	BytesSaved int64          `json:"bytes_saved"`
}

// check reports a broken Record. A failure here is a store bug.
func (r Record) check() error {
	switch {
	case r.Action != ActionInserted && r.Action != ActionUpdated:
		return fmt.Errorf("invalid action %q", r.Action)
	case r.ID == "":
		return fmt.Errorf("empty id")
	case r.CreatedAt.IsZero() || r.UpdatedAt.IsZero():
		return fmt.Errorf("missing timestamps")
	case r.UpdatedAt.Before(r.CreatedAt):
		return fmt.Errorf("updated_at %s before created_at %s", r.UpdatedAt, r.CreatedAt)
	case r.Action == ActionInserted && !r.UpdatedAt.Equal(r.CreatedAt):
		return fmt.Errorf("inserted row with created_at != updated_at")
	case r.BytesSaved < 0:
		return fmt.Errorf("negative bytes_saved %d", r.BytesSaved)
	}
	return nil
}

// Write is one upsert handed to a Store.
type Write struct {
	// Namespace is the identity slug the row belongs to.
	Namespace string
	Table     string
	ID        string
	// Columns are the flattened user columns, excluding meta columns.
	Columns map[string]any
	TTL     time.Duration
	// Fence is the lock fence the writer holds. Stores reject a write whose
	// fence is lower than the one recorded on the row.
	Fence int64
	Now   time.Time
}

func unixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

