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

// Package config loads server settings from defaults, an optional YAML
// file, MCP_* environment variables and command-line flags, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every settings key to form its environment variable.
const EnvPrefix = "MCP"

// Transport names.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Datacache storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Settings is the complete server configuration.
type Settings struct {
	Server     ServerSettings     `mapstructure:"server"`
	Transport  TransportSettings  `mapstructure:"transport"`
	Middleware MiddlewareSettings `mapstructure:"middleware"`
	Datacache  DatacacheSettings  `mapstructure:"datacache"`

	// Debug forces debug logging and unmasked errors.
	Debug bool `mapstructure:"debug"`

	// LogFile receives logs instead of stderr when set.
	LogFile string `mapstructure:"log_file"`
}

// ServerSettings describes the server to clients.
type ServerSettings struct {
	Name         string `mapstructure:"name"`
	Version      string `mapstructure:"version"`
	Title        string `mapstructure:"title"`
	Instructions string `mapstructure:"instructions"`
}

// TransportSettings selects and tunes the transport.
type TransportSettings struct {
	Type                   string `mapstructure:"type"`
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	Path                   string `mapstructure:"path"`
	SessionTimeoutSeconds  int    `mapstructure:"session_timeout_seconds"`
	CleanupIntervalSeconds int    `mapstructure:"cleanup_interval_seconds"`
	MaxSessions            int    `mapstructure:"max_sessions"`
	MaxQueueSize           int    `mapstructure:"max_queue_size"`
	MaxBodyBytes           int64  `mapstructure:"max_body_bytes"`
}

// SessionTimeout returns SessionTimeoutSeconds as a duration.
func (t TransportSettings) SessionTimeout() time.Duration {
	return time.Duration(t.SessionTimeoutSeconds) * time.Second
}

// CleanupInterval returns CleanupIntervalSeconds as a duration.
func (t TransportSettings) CleanupInterval() time.Duration {
	return time.Duration(t.CleanupIntervalSeconds) * time.Second
}

// Addr returns host:port.
func (t TransportSettings) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// MiddlewareSettings toggles the built-in middleware.
type MiddlewareSettings struct {
	EnableLogging       bool   `mapstructure:"enable_logging"`
	LogLevel            string `mapstructure:"log_level"`
	EnableErrorHandling bool   `mapstructure:"enable_error_handling"`
	MaskErrorDetails    bool   `mapstructure:"mask_error_details"`
	EnableMetrics       bool   `mapstructure:"enable_metrics"`
}

// DatacacheSettings configures the lock backend and the cache store.
type DatacacheSettings struct {
	RedisURL        string `mapstructure:"redis_url"`
	StorageBackend  string `mapstructure:"storage_backend"`
	LocalDir        string `mapstructure:"local_dir"`
	PostgresURL     string `mapstructure:"postgres_url"`
	SnapshotDir     string `mapstructure:"snapshot_dir"`
	LockTTLSeconds  int    `mapstructure:"lock_ttl_seconds"`
	LockWaitSeconds int    `mapstructure:"lock_wait_seconds"`
	JanitorSchedule string `mapstructure:"janitor_schedule"`
}

// Enabled reports whether a lock backend is configured.
func (d DatacacheSettings) Enabled() bool {
	return d.RedisURL != ""
}

// LockTTL returns LockTTLSeconds as a duration.
func (d DatacacheSettings) LockTTL() time.Duration {
	return time.Duration(d.LockTTLSeconds) * time.Second
}

// LockWait returns LockWaitSeconds as a duration.
func (d DatacacheSettings) LockWait() time.Duration {
	return time.Duration(d.LockWaitSeconds) * time.Second
}

// Datacache settings also answer to the ARCADE_DATACACHE_* names.
var datacacheEnvAliases = map[string]string{
	"datacache.redis_url":         "ARCADE_DATACACHE_REDIS_URL",
	"datacache.storage_backend":   "ARCADE_DATACACHE_STORAGE_BACKEND",
	"datacache.local_dir":         "ARCADE_DATACACHE_LOCAL_DIR",
	"datacache.postgres_url":      "ARCADE_DATACACHE_POSTGRES_URL",
	"datacache.snapshot_dir":      "ARCADE_DATACACHE_SNAPSHOT_DIR",
	"datacache.lock_ttl_seconds":  "ARCADE_DATACACHE_LOCK_TTL_SECONDS",
	"datacache.lock_wait_seconds": "ARCADE_DATACACHE_LOCK_WAIT_SECONDS",
	"datacache.janitor_schedule":  "ARCADE_DATACACHE_JANITOR_SCHEDULE",
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "ArcadeMCP")
	v.SetDefault("server.version", "0.1.0dev")
	v.SetDefault("server.title", "ArcadeMCP")
	v.SetDefault("server.instructions",
		"ArcadeMCP provides access to a wide range of tools and toolkits. "+
			"Use 'tools/list' to see available tools and 'tools/call' to execute them.")

	v.SetDefault("transport.type", TransportStdio)
	v.SetDefault("transport.host", "127.0.0.1")
	v.SetDefault("transport.port", 8000)
	v.SetDefault("transport.path", "/mcp")
	v.SetDefault("transport.session_timeout_seconds", 300)
	v.SetDefault("transport.cleanup_interval_seconds", 10)
	v.SetDefault("transport.max_sessions", 1000)
	v.SetDefault("transport.max_queue_size", 1000)
	v.SetDefault("transport.max_body_bytes", 10*1024*1024)

	v.SetDefault("middleware.enable_logging", true)
	v.SetDefault("middleware.log_level", "INFO")
	v.SetDefault("middleware.enable_error_handling", true)
	v.SetDefault("middleware.mask_error_details", false)
	v.SetDefault("middleware.enable_metrics", true)

	v.SetDefault("datacache.redis_url", "")
	v.SetDefault("datacache.storage_backend", BackendSQLite)
	v.SetDefault("datacache.local_dir", DefaultDatacacheDir())
	v.SetDefault("datacache.postgres_url", "")
	v.SetDefault("datacache.snapshot_dir", "")
	v.SetDefault("datacache.lock_ttl_seconds", 900)
	v.SetDefault("datacache.lock_wait_seconds", 900)
	v.SetDefault("datacache.janitor_schedule", "@every 5m")

	v.SetDefault("debug", false)
	v.SetDefault("log_file", "")
}

// Load reads settings. cfgFile may be empty. flags, when non-nil, are
// bound by their long names to the keys in flagKeys.
func Load(cfgFile string, flags *pflag.FlagSet, flagKeys map[string]string) (*Settings, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(ExpandPath(cfgFile))
	} else {
		v.AddConfigPath(DataDir())
		v.AddConfigPath(".")
		v.SetConfigName(ConfigFileName)
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range datacacheEnvAliases {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, alias); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if flags != nil {
		for flag, key := range flagKeys {
			f := flags.Lookup(flag)
			if f == nil {
				return nil, fmt.Errorf("unknown flag %q for key %s", flag, key)
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) normalize() {
	s.Transport.Type = strings.ToLower(strings.TrimSpace(s.Transport.Type))
	s.Middleware.LogLevel = strings.ToUpper(strings.TrimSpace(s.Middleware.LogLevel))
	s.Datacache.StorageBackend = strings.ToLower(strings.TrimSpace(s.Datacache.StorageBackend))
	s.Datacache.LocalDir = ExpandPath(s.Datacache.LocalDir)
	if s.Datacache.SnapshotDir != "" {
		s.Datacache.SnapshotDir = ExpandPath(s.Datacache.SnapshotDir)
	}
	if s.Debug {
		s.Middleware.LogLevel = "DEBUG"
		s.Middleware.MaskErrorDetails = false
	}
}

var validLogLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true,
}

// Validate checks every bound and enum. All violations are reported together.
func (s *Settings) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	between := func(name string, v, lo, hi int) {
		check(v >= lo && v <= hi, "%s must be between %d and %d, got %d", name, lo, hi, v)
	}

	check(s.Server.Name != "", "server.name is required")
	check(s.Transport.Type == TransportStdio || s.Transport.Type == TransportHTTP,
		"transport.type must be one of: stdio, http")
	between("transport.port", s.Transport.Port, 0, 65535)
	check(strings.HasPrefix(s.Transport.Path, "/"), "transport.path must start with /")
	between("transport.session_timeout_seconds", s.Transport.SessionTimeoutSeconds, 30, 3600)
	between("transport.cleanup_interval_seconds", s.Transport.CleanupIntervalSeconds, 1, 60)
	between("transport.max_sessions", s.Transport.MaxSessions, 1, 10000)
	between("transport.max_queue_size", s.Transport.MaxQueueSize, 10, 10000)
	check(s.Transport.MaxBodyBytes > 0, "transport.max_body_bytes must be positive")

	check(validLogLevels[s.Middleware.LogLevel],
		"middleware.log_level must be one of: DEBUG, INFO, WARNING, ERROR, CRITICAL")

	between("datacache.lock_ttl_seconds", s.Datacache.LockTTLSeconds, 1, 86400)
	between("datacache.lock_wait_seconds", s.Datacache.LockWaitSeconds, 0, 86400)
	switch s.Datacache.StorageBackend {
	case BackendSQLite:
	case BackendPostgres:
		check(s.Datacache.PostgresURL != "", "datacache.postgres_url is required for the postgres backend")
	default:
		check(false, "datacache.storage_backend must be one of: sqlite, postgres")
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
