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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the settings search path at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(DataDirEnv, dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	s, err := Load("", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "ArcadeMCP", s.Server.Name)
	assert.Equal(t, "0.1.0dev", s.Server.Version)
	assert.Contains(t, s.Server.Instructions, "tools/list")

	assert.Equal(t, TransportStdio, s.Transport.Type)
	assert.Equal(t, "127.0.0.1:8000", s.Transport.Addr())
	assert.Equal(t, "/mcp", s.Transport.Path)
	assert.Equal(t, 5*time.Minute, s.Transport.SessionTimeout())
	assert.Equal(t, 10, s.Transport.CleanupIntervalSeconds)
	assert.Equal(t, 1000, s.Transport.MaxSessions)
	assert.Equal(t, 1000, s.Transport.MaxQueueSize)
	assert.Equal(t, int64(10*1024*1024), s.Transport.MaxBodyBytes)

	assert.True(t, s.Middleware.EnableLogging)
	assert.Equal(t, "INFO", s.Middleware.LogLevel)
	assert.False(t, s.Middleware.MaskErrorDetails)

	assert.False(t, s.Datacache.Enabled())
	assert.Equal(t, BackendSQLite, s.Datacache.StorageBackend)
	assert.Equal(t, DefaultDatacacheDir(), s.Datacache.LocalDir)
	assert.Equal(t, 15*time.Minute, s.Datacache.LockTTL())
	assert.Equal(t, 15*time.Minute, s.Datacache.LockWait())
	assert.Equal(t, "@every 5m", s.Datacache.JanitorSchedule)
}

func TestLoad_Environment(t *testing.T) {
	isolate(t)
	t.Setenv("MCP_SERVER_NAME", "EnvServer")
	t.Setenv("MCP_TRANSPORT_SESSION_TIMEOUT_SECONDS", "600")
	t.Setenv("MCP_MIDDLEWARE_MASK_ERROR_DETAILS", "true")
	t.Setenv("MCP_MIDDLEWARE_LOG_LEVEL", "warning")
	t.Setenv("ARCADE_DATACACHE_REDIS_URL", "redis://cache:6379/0")
	t.Setenv("ARCADE_DATACACHE_LOCK_WAIT_SECONDS", "0")

	s, err := Load("", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "EnvServer", s.Server.Name)
	assert.Equal(t, 10*time.Minute, s.Transport.SessionTimeout())
	assert.True(t, s.Middleware.MaskErrorDetails)
	assert.Equal(t, "WARNING", s.Middleware.LogLevel)
	assert.Equal(t, "redis://cache:6379/0", s.Datacache.RedisURL)
	assert.True(t, s.Datacache.Enabled())
	assert.Equal(t, time.Duration(0), s.Datacache.LockWait())
}

func TestLoad_PrefixedEnvWinsOverAlias(t *testing.T) {
	isolate(t)
	t.Setenv("MCP_DATACACHE_REDIS_URL", "redis://primary")
	t.Setenv("ARCADE_DATACACHE_REDIS_URL", "redis://alias")

	s, err := Load("", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "redis://primary", s.Datacache.RedisURL)
}

func TestLoad_File(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  name: FileServer
transport:
  type: http
  port: 9100
datacache:
  storage_backend: postgres
  postgres_url: postgres://localhost/cache
`), 0o600))

	s, err := Load(path, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "FileServer", s.Server.Name)
	assert.Equal(t, TransportHTTP, s.Transport.Type)
	assert.Equal(t, 9100, s.Transport.Port)
	assert.Equal(t, BackendPostgres, s.Datacache.StorageBackend)

	t.Run("discovered in the data dir", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "mcp.yaml"), []byte("server:\n  name: Discovered\n"), 0o600))
		s, err := Load("", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "Discovered", s.Server.Name)
	})

	t.Run("explicit file must exist", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "missing.yaml"), nil, nil)
		assert.Error(t, err)
	})
}

func TestLoad_Flags(t *testing.T) {
	isolate(t)
	t.Setenv("MCP_TRANSPORT_PORT", "9000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("transport", "stdio", "")
	flags.Int("port", 8000, "")
	flags.Bool("debug", false, "")
	keys := map[string]string{"transport": "transport.type", "port": "transport.port", "debug": "debug"}

	t.Run("unchanged flags do not override", func(t *testing.T) {
		s, err := Load("", flags, keys)
		require.NoError(t, err)
		assert.Equal(t, 9000, s.Transport.Port)
		assert.Equal(t, TransportStdio, s.Transport.Type)
	})

	t.Run("changed flags win", func(t *testing.T) {
		require.NoError(t, flags.Parse([]string{"--transport", "HTTP", "--port", "9200", "--debug"}))
		s, err := Load("", flags, keys)
		require.NoError(t, err)
		assert.Equal(t, 9200, s.Transport.Port)
		assert.Equal(t, TransportHTTP, s.Transport.Type)
		assert.True(t, s.Debug)
		assert.Equal(t, "DEBUG", s.Middleware.LogLevel)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := Load("", flags, map[string]string{"nope": "server.name"})
		assert.Error(t, err)
	})
}

func TestSettings_Validate(t *testing.T) {
	base := func(t *testing.T) *Settings {
		isolate(t)
		s, err := Load("", nil, nil)
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"session timeout too low", func(s *Settings) { s.Transport.SessionTimeoutSeconds = 29 }, "transport.session_timeout_seconds"},
		{"session timeout too high", func(s *Settings) { s.Transport.SessionTimeoutSeconds = 3601 }, "transport.session_timeout_seconds"},
		{"cleanup interval", func(s *Settings) { s.Transport.CleanupIntervalSeconds = 0 }, "transport.cleanup_interval_seconds"},
		{"max sessions", func(s *Settings) { s.Transport.MaxSessions = 0 }, "transport.max_sessions"},
		{"queue size", func(s *Settings) { s.Transport.MaxQueueSize = 5 }, "transport.max_queue_size"},
		{"transport type", func(s *Settings) { s.Transport.Type = "sse" }, "transport.type"},
		{"path", func(s *Settings) { s.Transport.Path = "mcp" }, "transport.path"},
		{"log level", func(s *Settings) { s.Middleware.LogLevel = "TRACE" }, "middleware.log_level"},
		{"lock ttl", func(s *Settings) { s.Datacache.LockTTLSeconds = 0 }, "datacache.lock_ttl_seconds"},
		{"lock wait", func(s *Settings) { s.Datacache.LockWaitSeconds = 86401 }, "datacache.lock_wait_seconds"},
		{"backend", func(s *Settings) { s.Datacache.StorageBackend = "s3" }, "datacache.storage_backend"},
		{"postgres needs url", func(s *Settings) { s.Datacache.StorageBackend = BackendPostgres }, "datacache.postgres_url"},
		{"server name", func(s *Settings) { s.Server.Name = "" }, "server.name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base(t)
			require.NoError(t, s.Validate())
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("all violations reported", func(t *testing.T) {
		s := base(t)
		s.Transport.MaxSessions = 0
		s.Middleware.LogLevel = "TRACE"
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport.max_sessions")
		assert.Contains(t, err.Error(), "middleware.log_level")
	})

	t.Run("invalid env fails load", func(t *testing.T) {
		isolate(t)
		t.Setenv("MCP_TRANSPORT_SESSION_TIMEOUT_SECONDS", "5")
		_, err := Load("", nil, nil)
		assert.ErrorContains(t, err, "invalid settings")
	})
}
