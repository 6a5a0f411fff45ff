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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ArcadeAI/arcade-mcp-sub004/internal/demo"
	"github.com/ArcadeAI/arcade-mcp-sub004/internal/pgxdriver"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/catalog"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/config"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/datacache"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/lock"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/middleware"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/server"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/tools"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/transport"
)

// sqliteFileName is the datacache database inside datacache.local_dir.
const sqliteFileName = "datacache.db"

// app is everything serve wires together.
type app struct {
	settings  *config.Settings
	logger    *zap.Logger
	registry  *prometheus.Registry
	catalog   *catalog.Catalog
	tools     *tools.Manager
	cache     *datacache.Client
	server    *server.Server
	transport transport.Transport

	// closers run in reverse order on Close.
	closers []func(ctx context.Context) error
}

// environ is read for tool secrets. Tests replace it.
var environ = os.Environ

// stdio is where the stdio transport reads and writes. Tests replace it.
type stdio struct {
	in  io.Reader
	out io.Writer
}

// newApp builds every component from s. On error, whatever was already
// opened is closed.
func newApp(ctx context.Context, s *config.Settings, logger *zap.Logger, std stdio) (*app, error) {
	a := &app{
		settings: s,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		catalog:  catalog.New(),
	}
	if err := a.build(ctx, std); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, std stdio) error {
	s, logger := a.settings, a.logger

	if err := demo.Register(a.catalog); err != nil {
		return err
	}
	a.tools = tools.NewManager(tools.WithLogger(logger))
	if err := a.tools.LoadFromCatalog(ctx, a.catalog); err != nil {
		return fmt.Errorf("failed to load tools: %w", err)
	}
	logger.Info("loaded tools",
		zap.Int("count", a.tools.Len()),
		zap.Strings("toolkits", a.catalog.Toolkits()))

	if s.Middleware.EnableMetrics {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithPipeline(a.pipeline()),
		server.WithInstructions(s.Server.Instructions),
		server.WithToolEnvironment(server.ToolEnvironment(environ())),
	}
	if s.Datacache.Enabled() {
		if err := a.openDatacache(ctx); err != nil {
			return err
		}
		opts = append(opts, server.WithDatacache(a.cache))
	} else {
		logger.Info("datacache disabled; tools that declare datacache keys will fail")
	}
	a.server = server.NewServer(s.Server.Name, s.Server.Version, a.tools, opts...)

	switch s.Transport.Type {
	case config.TransportHTTP:
		cfg := transport.HTTPConfig{
			Host:            s.Transport.Host,
			Port:            s.Transport.Port,
			Path:            s.Transport.Path,
			SessionTTL:      s.Transport.SessionTimeout(),
			CleanupInterval: s.Transport.CleanupInterval(),
			MaxSessions:     s.Transport.MaxSessions,
			MaxQueueSize:    s.Transport.MaxQueueSize,
			MaxBodyBytes:    s.Transport.MaxBodyBytes,
			Logger:          logger,
		}
		if s.Middleware.EnableMetrics {
			cfg.Gatherer = a.registry
		}
		a.transport = transport.NewStreamableHTTPTransport(cfg)
	default:
		a.transport = transport.NewStdioTransport(std.in, std.out, transport.WithStdioLogger(logger))
	}
	return nil
}

func (a *app) pipeline() *middleware.Pipeline {
	mw := a.settings.Middleware
	p := middleware.NewPipeline(middleware.WithLogger(a.logger))
	if mw.EnableLogging {
		p.Add(middleware.NewLogging(a.logger))
	}
	if mw.EnableErrorHandling && mw.MaskErrorDetails {
		p.Add(middleware.NewErrorMasking())
	}
	if mw.EnableMetrics {
		p.Add(middleware.NewMetrics(a.registry))
	}
	return p
}

func (a *app) openDatacache(ctx context.Context) error {
	dc := a.settings.Datacache

	locker, err := lock.NewRedisLockerFromURL(ctx, dc.RedisURL, lock.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("failed to connect datacache lock backend: %w", err)
	}
	a.onClose(func(context.Context) error { return locker.Close() })

	var (
		store datacache.Store
		save  func(ctx context.Context) error
	)
	switch dc.StorageBackend {
	case config.BackendPostgres:
		pg, err := datacache.OpenPostgresStore(ctx, pgxdriver.Config{DSN: dc.PostgresURL}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to open postgres datacache: %w", err)
		}
		store = pg
	default:
		sqlite, snapshot, err := a.openSQLite(ctx)
		if err != nil {
			return err
		}
		store, save = sqlite, snapshot
	}
	a.onClose(func(context.Context) error { return store.Close() })
	if save != nil {
		a.onClose(save)
	}

	janitor, err := datacache.NewJanitor(store, dc.JanitorSchedule, a.logger)
	if err != nil {
		return err
	}
	if err := janitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start datacache janitor: %w", err)
	}
	a.onClose(func(context.Context) error {
		janitor.Stop()
		return nil
	})

	a.cache = datacache.NewClient(store, locker,
		datacache.WithClientLogger(a.logger),
		datacache.WithLockTimeouts(dc.LockTTL(), dc.LockWait()),
	)
	a.logger.Info("datacache enabled",
		zap.String("backend", dc.StorageBackend),
		zap.Duration("lock_ttl", dc.LockTTL()),
		zap.Duration("lock_wait", dc.LockWait()))
	return nil
}

// openSQLite opens the local database. With a snapshot dir, the database is
// restored from a snapshot keyed by the catalog digest, and the returned
// save func writes it back.
func (a *app) openSQLite(ctx context.Context) (*datacache.SQLiteStore, func(context.Context) error, error) {
	dc := a.settings.Datacache
	path := filepath.Join(dc.LocalDir, sqliteFileName)
	opt := datacache.WithSQLiteLogger(a.logger)

	if dc.SnapshotDir == "" {
		store, err := datacache.NewSQLiteStore(ctx, path, opt)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite datacache: %w", err)
		}
		return store, nil, nil
	}

	snapshots, err := datacache.NewLocalSnapshotStorage(dc.SnapshotDir, a.logger)
	if err != nil {
		return nil, nil, err
	}
	digest, err := a.catalog.Digest()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to digest catalog: %w", err)
	}
	key := digest + ".db"
	store, err := datacache.OpenSQLiteStoreFromSnapshot(ctx, snapshots, key, path, opt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to restore sqlite datacache: %w", err)
	}
	save := func(ctx context.Context) error {
		if err := store.SaveSnapshot(ctx, snapshots, key); err != nil {
			return fmt.Errorf("failed to save datacache snapshot: %w", err)
		}
		a.logger.Info("saved datacache snapshot", zap.String("location", snapshots.Location(key)))
		return nil
	}
	return store, save, nil
}

func (a *app) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases datacache resources. It is safe to call more than once.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
