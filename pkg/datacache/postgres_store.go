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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ArcadeAI/arcade-mcp-sub004/internal/pgxdriver"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/toolerr"
)

const postgresDDL = `
CREATE TABLE IF NOT EXISTS datacache_records (
	namespace TEXT NOT NULL,
	tbl TEXT NOT NULL,
	id TEXT NOT NULL,
	data JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	ttl BIGINT,
	fence BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (namespace, tbl, id)
);
CREATE INDEX IF NOT EXISTS idx_datacache_records_expiry
	ON datacache_records (updated_at) WHERE ttl IS NOT NULL AND ttl > 0;
`

const pgLiveFilter = `(ttl IS NULL OR ttl = 0 OR updated_at + ttl * 1000 >= $4)`

// PostgresStore keeps every namespace and table in one JSONB-backed table.
type PostgresStore struct {
	pool     *pgxpool.Pool
	ownsPool bool
	logger   *zap.Logger
}

// NewPostgresStore uses an existing pool and creates the schema. Close does
// not close a pool passed in here.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := pool.Exec(ctx, postgresDDL); err != nil {
		return nil, fmt.Errorf("failed to initialize datacache schema: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// OpenPostgresStore connects with cfg and creates the schema.
func OpenPostgresStore(ctx context.Context, cfg pgxdriver.Config, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxdriver.NewPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s, err := NewPostgresStore(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.ownsPool = true
	return s, nil
}

// Close releases the pool if the store opened it.
func (s *PostgresStore) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

// Upsert implements Store.
func (s *PostgresStore) Upsert(ctx context.Context, w Write) (Record, error) {
	if err := ValidateIdentifier(w.Table); err != nil {
		return Record{}, err
	}
	if err := checkColumnCase(w.Columns); err != nil {
		return Record{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Record{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	action := ActionInserted
	nowMs := w.Now.UnixMilli()
	createdAt, updatedAt := nowMs, nowMs
	data := make(map[string]any, len(w.Columns))

	var (
		prevCreated, prevUpdated, prevFence int64
		prevData                            []byte
	)
	err = tx.QueryRow(ctx, `
		SELECT created_at, updated_at, fence, data
		FROM datacache_records
		WHERE namespace = $1 AND tbl = $2 AND id = $3
		FOR UPDATE`,
		w.Namespace, w.Table, w.ID,
	).Scan(&prevCreated, &prevUpdated, &prevFence, &prevData)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return Record{}, fmt.Errorf("read existing row: %w", err)
	default:
		if w.Fence < prevFence {
			return Record{}, fmt.Errorf("%w: row fence %d, write fence %d", ErrStaleFence, prevFence, w.Fence)
		}
		action = ActionUpdated
		createdAt = prevCreated
		updatedAt = nextUpdatedAt(w.Now, prevUpdated)
		if err := json.Unmarshal(prevData, &data); err != nil {
			return Record{}, fmt.Errorf("decode existing row: %w", err)
		}
	}
	for k, v := range w.Columns {
		data[k] = v
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return Record{}, fmt.Errorf("encode row: %w", err)
	}

	ttl := ttlSeconds(w.TTL)
	_, err = tx.Exec(ctx, `
		INSERT INTO datacache_records (namespace, tbl, id, data, created_at, updated_at, ttl, fence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (namespace, tbl, id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at,
			ttl = EXCLUDED.ttl,
			fence = EXCLUDED.fence`,
		w.Namespace, w.Table, w.ID, encoded, createdAt, updatedAt, ttl, w.Fence,
	)
	if err != nil {
		return Record{}, fmt.Errorf("upsert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}

	var ttlPtr *int64
	if v, ok := ttl.(int64); ok {
		ttlPtr = &v
	}
	return Record{
		Table:     w.Table,
		ID:        w.ID,
		Action:    action,
		Record:    assembleRow(w.ID, data, createdAt, updatedAt, ttlPtr),
		CreatedAt: unixMilli(createdAt),
		UpdatedAt: unixMilli(updatedAt),
	}, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, namespace, table, id string, now time.Time) (map[string]any, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, data, created_at, updated_at, ttl
		FROM datacache_records
		WHERE namespace = $1 AND tbl = $2 AND id = $3 AND `+pgLiveFilter,
		namespace, table, id, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	out, err := collectPgRows(rows)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	if len(out) == 0 {
		return nil, toolerr.NewNotFound("datacache record", table+"/"+id)
	}
	return out[0], nil
}

// Search implements Store.
func (s *PostgresStore) Search(ctx context.Context, namespace, table, column, term string, now time.Time) ([]map[string]any, error) {
	if err := ValidateIdentifier(column); err != nil {
		return nil, err
	}
	target := "data ->> $5"
	args := []any{namespace, table, likePattern(term), now.UnixMilli(), column}
	if column == ColumnID {
		target = "id"
		args = args[:4]
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, data, created_at, updated_at, ttl
		FROM datacache_records
		WHERE namespace = $1 AND tbl = $2 AND lower(`+target+`) LIKE $3 ESCAPE '\' AND `+pgLiveFilter+`
		ORDER BY updated_at, id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return collectPgRows(rows)
}

// Purge implements Store.
func (s *PostgresStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM datacache_records
		WHERE ttl IS NOT NULL AND ttl > 0 AND updated_at + ttl * 1000 < $1`,
		now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Debug("purged expired datacache rows", zap.Int64("rows", n))
	}
	return tag.RowsAffected(), nil
}

func collectPgRows(rows pgx.Rows) ([]map[string]any, error) {
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		var (
			id                   string
			raw                  []byte
			createdAt, updatedAt int64
			ttl                  *int64
		)
		if err := rows.Scan(&id, &raw, &createdAt, &updatedAt, &ttl); err != nil {
			return nil, err
		}
		data := map[string]any{}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decode row %s: %w", id, err)
		}
		out = append(out, assembleRow(id, data, createdAt, updatedAt, ttl))
	}
	return out, rows.Err()
}

// assembleRow produces the same row shape as the SQLite store.
func assembleRow(id string, data map[string]any, createdAt, updatedAt int64, ttl *int64) map[string]any {
	row := make(map[string]any, len(data)+4)
	for k, v := range data {
		row[k] = v
	}
	row[ColumnID] = id
	row[ColumnCreatedAt] = createdAt
	row[ColumnUpdatedAt] = updatedAt
	if ttl != nil {
		row[ColumnTTL] = *ttl
	} else {
		row[ColumnTTL] = nil
	}
	return row
}
