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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidIdentifier is returned for table or column names that are not
	// plain SQL identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrStaleFence is returned when a write carries a lock fence older than
	// the one already recorded on the row.
	ErrStaleFence = errors.New("stale lock fence")

	// ErrReservedColumn is returned when a record uses a meta column name.
	ErrReservedColumn = errors.New("reserved column")

	// ErrDuplicateColumn is returned when two keys of a record differ only
	// in case. Column names are case-insensitive.
	ErrDuplicateColumn = errors.New("duplicate column")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks that name is safe to interpolate as a quoted
// SQL identifier.
func ValidateIdentifier(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// Store persists cache rows. Rows are namespaced by identity slug; the same
// table name in two namespaces never shares rows.
type Store interface {
	// Upsert inserts or replaces a row, preserving created_at and keeping
	// updated_at strictly increasing per row.
	Upsert(ctx context.Context, w Write) (Record, error)

	// Get returns a live row, or toolerr NotFound.
	Get(ctx context.Context, namespace, table, id string, now time.Time) (map[string]any, error)

	// Search returns live rows whose column contains term, ignoring case.
	Search(ctx context.Context, namespace, table, column, term string, now time.Time) ([]map[string]any, error)

	// Purge deletes expired rows and returns how many were removed.
	Purge(ctx context.Context, now time.Time) (int64, error)

	Close() error
}

func isMetaColumn(name string) bool {
	switch strings.ToLower(name) {
	case ColumnID, ColumnCreatedAt, ColumnUpdatedAt, ColumnTTL, columnFence:
		return true
	}
	return false
}

// flatten turns a record into storable column values. Top-level keys only;
// nested maps and slices are stored as JSON text, scalars as their text form.
func flatten(record map[string]any, idCol string) (map[string]any, error) {
	cols := make(map[string]any, len(record))
	for k, v := range record {
		if k == idCol {
			continue
		}
		if err := ValidateIdentifier(k); err != nil {
			return nil, err
		}
		if isMetaColumn(k) {
			return nil, fmt.Errorf("%w: %q", ErrReservedColumn, k)
		}
		text, err := columnText(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", k, err)
		}
		cols[k] = text
	}
	if err := checkColumnCase(cols); err != nil {
		return nil, err
	}
	return cols, nil
}

// checkColumnCase rejects column names that differ only in case.
func checkColumnCase(cols map[string]any) error {
	names := make([]string, 0, len(cols))
	for k := range cols {
		names = append(names, k)
	}
	sort.Strings(names)
	seen := make(map[string]string, len(names))
	for _, k := range names {
		folded := strings.ToLower(k)
		if other, ok := seen[folded]; ok {
			return fmt.Errorf("%w: %q and %q", ErrDuplicateColumn, other, k)
		}
		seen[folded] = k
	}
	return nil
}

// columnText renders v as stored text. nil stays nil.
func columnText(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// idText renders the id column value.
func idText(v any) (string, error) {
	text, err := columnText(v)
	if err != nil {
		return "", err
	}
	s, _ := text.(string)
	if s == "" {
		return "", fmt.Errorf("empty id")
	}
	return s, nil
}

// canonicalSize is the length of the canonical JSON encoding of record.
// encoding/json sorts map keys, so equal records always measure the same.
func canonicalSize(record map[string]any) int64 {
	b, err := json.Marshal(record)
	if err != nil {
		return int64(len(fmt.Sprint(record)))
	}
	return int64(len(b))
}

// likePattern builds a case-folded substring LIKE pattern with '\' as the
// escape character.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + strings.ToLower(r.Replace(term)) + "%"
}

// physicalTable maps a namespace and logical table to a SQL table name.
func physicalTable(namespace, table string) string {
	sum := sha256.Sum256([]byte(namespace))
	return "dc_" + hex.EncodeToString(sum[:8]) + "_" + table
}

// nextUpdatedAt keeps updated_at strictly increasing for a row even when the
// wall clock stalls or steps back.
func nextUpdatedAt(now time.Time, prevMs int64) int64 {
	ms := now.UnixMilli()
	if ms <= prevMs {
		ms = prevMs + 1
	}
	return ms
}

func ttlSeconds(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return int64(ttl / time.Second)
}
