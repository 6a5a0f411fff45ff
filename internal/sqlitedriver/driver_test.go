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
package sqlitedriver_test

import (
	"database/sql"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArcadeAI/arcade-mcp-sub004/internal/sqlitedriver"
)

func TestDriverRegistered(t *testing.T) {
	assert.True(t, slices.Contains(sql.Drivers(), sqlitedriver.DriverName), "sqlite driver should be registered")
}

func TestDSN(t *testing.T) {
	assert.Contains(t, sqlitedriver.DSN(""), "file::memory:?")
	assert.NotContains(t, sqlitedriver.DSN(sqlitedriver.MemoryPath), "journal_mode")
	assert.Contains(t, sqlitedriver.DSN("/tmp/x.db"), "journal_mode%28WAL%29")
	assert.Contains(t, sqlitedriver.DSN("file:/tmp/x.db"), "file:/tmp/x.db?")
}

func TestBasicCRUD(t *testing.T) {
	db, err := sqlitedriver.Open(sqlitedriver.MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO test (name) VALUES (?)", "hello")
	require.NoError(t, err)

	var name string
	err = db.QueryRow("SELECT name FROM test WHERE id = 1").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "hello", name)
}

func TestFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	db, err := sqlitedriver.Open(path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO kv VALUES ('a', 'b')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = sqlitedriver.Open(path)
	require.NoError(t, err)
	defer db.Close()

	var v string
	require.NoError(t, db.QueryRow("SELECT v FROM kv WHERE k = 'a'").Scan(&v))
	assert.Equal(t, "b", v)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
