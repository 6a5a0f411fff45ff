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
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/lock"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/toolerr"
)

// DefaultIDColumn is the id column used when Set is called without one.
const DefaultIDColumn = "id"

// Client serializes cache writes through a distributed lock and persists
// them in a Store.
type Client struct {
	store    Store
	locker   lock.Locker
	logger   *zap.Logger
	lockTTL  time.Duration
	lockWait time.Duration
	now      func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithLockTimeouts sets the lock TTL and the maximum acquisition wait.
func WithLockTimeouts(ttl, wait time.Duration) ClientOption {
	return func(c *Client) {
		c.lockTTL = ttl
		c.lockWait = wait
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client. A nil locker is allowed so the server can
// start without Redis, but every operation then fails with
// LockBackendUnavailable.
func NewClient(store Store, locker lock.Locker, opts ...ClientOption) *Client {
	c := &Client{
		store:    store,
		locker:   locker,
		logger:   zap.NewNop(),
		lockTTL:  lock.DefaultTTL,
		lockWait: lock.DefaultWait,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ready() error {
	if c == nil || c.locker == nil {
		return toolerr.NewLockBackendUnavailable("datacache requires a distributed lock backend (set datacache.redis_url)", nil)
	}
	if c.store == nil {
		return toolerr.NewCacheUnavailable("datacache store is not configured", nil)
	}
	return nil
}

// Set upserts record into table under identity, keyed by record[idCol].
// The write runs while holding the row's distributed lock.
func (c *Client) Set(ctx context.Context, identity Identity, ttl time.Duration, table string, record map[string]any, idCol string) (Record, error) {
	if err := c.ready(); err != nil {
		return Record{}, err
	}
	if idCol == "" {
		idCol = DefaultIDColumn
	}
	if err := ValidateIdentifier(table); err != nil {
		return Record{}, toolerr.NewInvalidInput(err.Error(), err)
	}
	if err := ValidateIdentifier(idCol); err != nil {
		return Record{}, toolerr.NewInvalidInput(err.Error(), err)
	}
	rawID, ok := record[idCol]
	if !ok {
		return Record{}, toolerr.NewInvalidInput(fmt.Sprintf("record missing id column %q", idCol), nil)
	}
	rowID, err := idText(rawID)
	if err != nil {
		return Record{}, toolerr.NewInvalidInput(fmt.Sprintf("invalid id column %q", idCol), err)
	}
	if idCol != DefaultIDColumn {
		if _, clash := record[DefaultIDColumn]; clash {
			return Record{}, toolerr.NewInvalidInput(
				fmt.Sprintf("record has both %q and id column %q", DefaultIDColumn, idCol), ErrReservedColumn)
		}
	}
	cols, err := flatten(record, idCol)
	if err != nil {
		return Record{}, toolerr.NewInvalidInput(err.Error(), err)
	}
	if idCol != DefaultIDColumn {
		cols[idCol] = rowID
	}
	size := canonicalSize(record)

	key := identity.LockKey(table, rowID)
	var result Record
	err = lock.WithLock(ctx, c.locker, key, c.lockTTL, c.lockWait, func(ctx context.Context, l *lock.Lock) error {
		rec, err := c.store.Upsert(ctx, Write{
			Namespace: identity.Namespace,
			Table:     table,
			ID:        rowID,
			Columns:   cols,
			TTL:       ttl,
			Fence:     l.Fence,
			Now:       c.now(),
		})
		if err != nil {
			return err
		}
		result = rec
		return nil
	})
	if err != nil {
		return Record{}, c.classify(err, key)
	}

	result.BytesSaved = size
	if err := result.check(); err != nil {
		panic(fmt.Sprintf("datacache: store returned a malformed record for %s: %v", key, err))
	}

	c.logger.Debug("datacache set",
		zap.String("table", table),
		zap.String("id", rowID),
		zap.String("action", string(result.Action)),
		zap.Int64("bytes_saved", result.BytesSaved))
	return result, nil
}

// Get returns a live row by id.
func (c *Client) Get(ctx context.Context, identity Identity, table, id string) (map[string]any, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := ValidateIdentifier(table); err != nil {
		return nil, toolerr.NewInvalidInput(err.Error(), err)
	}
	row, err := c.store.Get(ctx, identity.Namespace, table, id, c.now())
	if err != nil {
		return nil, c.classify(err, "")
	}
	return row, nil
}

// Search returns live rows whose column contains term, ignoring case.
func (c *Client) Search(ctx context.Context, identity Identity, table, column, term string) ([]map[string]any, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := ValidateIdentifier(table); err != nil {
		return nil, toolerr.NewInvalidInput(err.Error(), err)
	}
	if err := ValidateIdentifier(column); err != nil {
		return nil, toolerr.NewInvalidInput(err.Error(), err)
	}
	rows, err := c.store.Search(ctx, identity.Namespace, table, column, term, c.now())
	if err != nil {
		return nil, c.classify(err, "")
	}
	return rows, nil
}

// classify maps store and lock failures onto the toolerr taxonomy.
func (c *Client) classify(err error, key string) error {
	if _, ok := toolerr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrStaleFence):
		c.logger.Warn("datacache write rejected, lock lost before commit",
			zap.String("lock_key", key),
			zap.Error(err))
		e := toolerr.NewLockTimeout(key, 0)
		e.Message = "lock expired before the write committed"
		e.Cause = err
		return e
	case errors.Is(err, ErrInvalidIdentifier), errors.Is(err, ErrReservedColumn), errors.Is(err, ErrDuplicateColumn):
		return toolerr.NewInvalidInput(err.Error(), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	c.logger.Error("datacache store failure", zap.Error(err))
	return toolerr.NewCacheUnavailable("datacache store failure", err)
}

// Scope binds the client to one call's identity and TTL.
func (c *Client) Scope(identity Identity, cfg *Config) *Scoped {
	var ttl time.Duration
	if cfg != nil {
		ttl = cfg.TTL
	}
	return &Scoped{client: c, identity: identity, ttl: ttl}
}

// Scoped is the cache handle a tool receives for one invocation.
type Scoped struct {
	client   *Client
	identity Identity
	ttl      time.Duration
}

// Identity returns the bound identity.
func (s *Scoped) Identity() Identity {
	return s.identity
}

// Set upserts record keyed by idColumn ("id" when empty).
func (s *Scoped) Set(ctx context.Context, table string, record map[string]any, idColumn string) (Record, error) {
	return s.client.Set(ctx, s.identity, s.ttl, table, record, idColumn)
}

// Get returns a live row by id.
func (s *Scoped) Get(ctx context.Context, table, id string) (map[string]any, error) {
	return s.client.Get(ctx, s.identity, table, id)
}

// Search returns live rows whose column contains term.
func (s *Scoped) Search(ctx context.Context, table, column, term string) ([]map[string]any, error) {
	return s.client.Search(ctx, s.identity, table, column, term)
}
