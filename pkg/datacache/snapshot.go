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
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// SnapshotStorage moves whole cache database files to and from shared
// storage, keyed by a digest.
type SnapshotStorage interface {
	// DownloadIfExists restores the snapshot for key into localPath and
	// reports whether one existed.
	DownloadIfExists(ctx context.Context, key, localPath string) (bool, error)
	// Upload replaces the snapshot for key with the file at localPath.
	Upload(ctx context.Context, key, localPath string) error
}

// LocalSnapshotStorage keeps zstd-compressed snapshots in a directory, which
// may be a volume shared between replicas.
type LocalSnapshotStorage struct {
	dir    string
	logger *zap.Logger
}

// NewLocalSnapshotStorage creates dir if needed.
func NewLocalSnapshotStorage(dir string, logger *zap.Logger) (*LocalSnapshotStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalSnapshotStorage{dir: dir, logger: logger}, nil
}

// Location returns the snapshot path for key.
func (l *LocalSnapshotStorage) Location(key string) string {
	return filepath.Join(l.dir, Slugify(key)+".db.zst")
}

// DownloadIfExists implements SnapshotStorage.
func (l *LocalSnapshotStorage) DownloadIfExists(ctx context.Context, key, localPath string) (bool, error) {
	src, err := os.Open(l.Location(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open snapshot: %w", err)
	}
	defer src.Close()

	dec, err := zstd.NewReader(src)
	if err != nil {
		return false, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	if err := writeAtomic(localPath, func(w io.Writer) error {
		_, err := io.Copy(w, ctxReader{ctx: ctx, r: dec})
		return err
	}); err != nil {
		return false, fmt.Errorf("restore snapshot: %w", err)
	}
	l.logger.Info("restored datacache snapshot",
		zap.String("key", key),
		zap.String("path", localPath))
	return true, nil
}

// Upload implements SnapshotStorage.
func (l *LocalSnapshotStorage) Upload(ctx context.Context, key, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open database file: %w", err)
	}
	defer src.Close()

	err = writeAtomic(l.Location(key), func(w io.Writer) error {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		if _, err := io.Copy(enc, ctxReader{ctx: ctx, r: src}); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	l.logger.Info("saved datacache snapshot",
		zap.String("key", key),
		zap.String("location", l.Location(key)))
	return nil
}

// writeAtomic writes to a temp file next to path and renames it into place.
func writeAtomic(path string, fill func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
