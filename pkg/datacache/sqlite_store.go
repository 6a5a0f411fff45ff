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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ArcadeAI/arcade-mcp-sub004/internal/sqlitedriver"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/toolerr"
)

const tablesDDL = `
CREATE TABLE IF NOT EXISTS datacache_tables (
	physical TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	logical TEXT NOT NULL
);
`

// liveFilter matches rows whose ttl has not lapsed at the bound time (ms).
const liveFilter = `(ttl IS NULL OR ttl = 0 OR updated_at + ttl * 1000 >= ?)`

// SQLiteStore keeps cache rows in a SQLite database, one SQL table per
// namespace and logical table. User columns are added as TEXT on first use.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteLogger sets the store logger.
func WithSQLiteLogger(logger *zap.Logger) SQLiteOption {
	return func(s *SQLiteStore) {
		s.logger = logger
	}
}

// NewSQLiteStore opens (or creates) the database at path. An empty path
// opens an in-memory database.
func NewSQLiteStore(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if path != "" && path != sqlitedriver.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create datacache directory: %w", err)
		}
	}
	db, err := sqlitedriver.Open(path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db, path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.ExecContext(ctx, tablesDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, w Write) (Record, error) {
	if err := ValidateIdentifier(w.Table); err != nil {
		return Record{}, err
	}
	if err := checkColumnCase(w.Columns); err != nil {
		return Record{}, err
	}
	phys := physicalTable(w.Namespace, w.Table)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.ensureTable(ctx, tx, phys, w.Namespace, w.Table); err != nil {
		return Record{}, err
	}

	action := ActionInserted
	nowMs := w.Now.UnixMilli()
	createdAt, updatedAt := nowMs, nowMs

	var prevCreated, prevUpdated, prevFence int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT created_at, updated_at, _fence FROM "%s" WHERE id = ?`, phys), w.ID,
	).Scan(&prevCreated, &prevUpdated, &prevFence)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Record{}, fmt.Errorf("read existing row: %w", err)
	default:
		if w.Fence < prevFence {
			return Record{}, fmt.Errorf("%w: row fence %d, write fence %d", ErrStaleFence, prevFence, w.Fence)
		}
		action = ActionUpdated
		createdAt = prevCreated
		updatedAt = nextUpdatedAt(w.Now, prevUpdated)
	}

	existing, err := tableColumns(ctx, tx, phys)
	if err != nil {
		return Record{}, err
	}
	userCols := make([]string, 0, len(w.Columns))
	for col := range w.Columns {
		userCols = append(userCols, col)
	}
	sort.Strings(userCols)
	for _, col := range userCols {
		// SQLite column names ignore case: "Name" and "name" are one column.
		if existing[strings.ToLower(col)] {
			continue
		}
		if err := ValidateIdentifier(col); err != nil {
			return Record{}, err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE "%s" ADD COLUMN "%s" TEXT`, phys, col)); err != nil {
			return Record{}, fmt.Errorf("add column %s: %w", col, err)
		}
	}

	cols := append([]string{ColumnID, ColumnCreatedAt, ColumnUpdatedAt, ColumnTTL, columnFence}, userCols...)
	args := []any{w.ID, createdAt, updatedAt, ttlSeconds(w.TTL), w.Fence}
	for _, col := range userCols {
		args = append(args, w.Columns[col])
	}
	quoted := make([]string, len(cols))
	updates := make([]string, 0, len(cols))
	for i, col := range cols {
		quoted[i] = `"` + col + `"`
		if col != ColumnID && col != ColumnCreatedAt {
			updates = append(updates, fmt.Sprintf(`"%s" = excluded."%s"`, col, col))
		}
	}
	stmt := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s`,
		phys,
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(updates, ", "))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return Record{}, fmt.Errorf("upsert: %w", err)
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s" WHERE id = ?`, phys), w.ID)
	if err != nil {
		return Record{}, fmt.Errorf("read back: %w", err)
	}
	saved, err := scanRows(rows)
	if err != nil {
		return Record{}, fmt.Errorf("read back: %w", err)
	}
	if len(saved) != 1 {
		return Record{}, fmt.Errorf("read back returned %d rows", len(saved))
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}

	return Record{
		Table:     w.Table,
		ID:        w.ID,
		Action:    action,
		Record:    saved[0],
		CreatedAt: unixMilli(createdAt),
		UpdatedAt: unixMilli(updatedAt),
	}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, namespace, table, id string, now time.Time) (map[string]any, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}
	phys := physicalTable(namespace, table)
	ok, err := s.tableExists(ctx, phys)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, toolerr.NewNotFound("datacache record", table+"/"+id)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT * FROM "%s" WHERE id = ? AND %s`, phys, liveFilter), id, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	if len(out) == 0 {
		return nil, toolerr.NewNotFound("datacache record", table+"/"+id)
	}
	return out[0], nil
}

// Search implements Store. An unknown table or column matches nothing.
func (s *SQLiteStore) Search(ctx context.Context, namespace, table, column, term string, now time.Time) ([]map[string]any, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}
	if err := ValidateIdentifier(column); err != nil {
		return nil, err
	}
	phys := physicalTable(namespace, table)
	ok, err := s.tableExists(ctx, phys)
	if err != nil || !ok {
		return []map[string]any{}, err
	}
	cols, err := tableColumns(ctx, s.db, phys)
	if err != nil {
		return nil, err
	}
	if !cols[strings.ToLower(column)] {
		return []map[string]any{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT * FROM "%s" WHERE lower(CAST("%s" AS TEXT)) LIKE ? ESCAPE '\' AND %s ORDER BY updated_at, id`,
			phys, column, liveFilter),
		likePattern(term), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return scanRows(rows)
}

// Purge implements Store.
func (s *SQLiteStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT physical FROM datacache_tables ORDER BY physical`)
	if err != nil {
		return 0, fmt.Errorf("list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return 0, err
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var total int64
	for _, phys := range tables {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM "%s" WHERE ttl IS NOT NULL AND ttl > 0 AND updated_at + ttl * 1000 < ?`, phys),
			now.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", phys, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		s.logger.Debug("purged expired datacache rows", zap.Int64("rows", total))
	}
	return total, nil
}

// SaveSnapshot writes a consistent copy of the database to storage under key.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, storage SnapshotStorage, key string) error {
	tmp, err := os.CreateTemp("", "datacache-*.db")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	os.Remove(tmpPath) // VACUUM INTO requires the target not to exist
	defer os.Remove(tmpPath)

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmpPath); err != nil {
		return fmt.Errorf("vacuum into snapshot: %w", err)
	}
	return storage.Upload(ctx, key, tmpPath)
}

// OpenSQLiteStoreFromSnapshot restores path from storage when a snapshot for
// key exists, then opens it.
func OpenSQLiteStoreFromSnapshot(ctx context.Context, storage SnapshotStorage, key, path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if path == "" || path == sqlitedriver.MemoryPath {
		return nil, fmt.Errorf("snapshot restore needs a file path")
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if _, err := storage.DownloadIfExists(ctx, key, path); err != nil {
			return nil, err
		}
	}
	return NewSQLiteStore(ctx, path, opts...)
}

func (s *SQLiteStore) ensureTable(ctx context.Context, tx *sql.Tx, phys, namespace, logical string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	ttl INTEGER,
	_fence INTEGER NOT NULL DEFAULT 0
)`, phys)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO datacache_tables (physical, namespace, logical) VALUES (?, ?, ?)`,
		phys, namespace, logical); err != nil {
		return fmt.Errorf("register table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) tableExists(ctx context.Context, phys string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM datacache_tables WHERE physical = ?`, phys).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup table: %w", err)
	}
	return true, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// tableColumns returns the lower-cased column names of phys.
func tableColumns(ctx context.Context, q queryer, phys string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, phys)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// scanRows reads every row into a column map, dropping the fence column.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if col == columnFence {
				continue
			}
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
