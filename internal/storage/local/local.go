// Package local provides a local filesystem storage backend and the atomic
// file write used by every download.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bina/bimsync/internal/metrics"
)

// WriteFileAtomic streams r into a temp file next to path and renames it
// into place. On any failure the temp file is removed and path is left
// untouched. It returns the number of bytes written.
func WriteFileAtomic(path string, r io.Reader, perm os.FileMode) (int64, error) {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".bimsync-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return n, fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return n, fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return n, fmt.Errorf("close temp for %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return n, fmt.Errorf("rename temp to %s: %w", path, err)
	}
	return n, nil
}

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string
	CreateDirs bool
}

// LocalBackend mirrors objects into a directory tree, typically a network
// share the rest of the team reads from.
type LocalBackend struct {
	rootPath   string
	createDirs bool
}

// New creates a new local filesystem backend.
func New(cfg Config) (*LocalBackend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &LocalBackend{
		rootPath:   cfg.RootPath,
		createDirs: cfg.CreateDirs,
	}, nil
}

func (b *LocalBackend) fullPath(key string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(key))
}

// PutObject writes content under key atomically. size is advisory.
func (b *LocalBackend) PutObject(_ context.Context, key string, body io.Reader, _ int64) error {
	start := time.Now()
	path := b.fullPath(key)

	if b.createDirs {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			metrics.RecordMirrorOperation("local", "put_object", time.Since(start), false)
			return fmt.Errorf("create dirs for %s: %w", key, err)
		}
	}

	if _, err := WriteFileAtomic(path, body, 0644); err != nil {
		metrics.RecordMirrorOperation("local", "put_object", time.Since(start), false)
		return err
	}
	metrics.RecordMirrorOperation("local", "put_object", time.Since(start), true)
	return nil
}

// ObjectExists checks if a file exists under key.
func (b *LocalBackend) ObjectExists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// Type returns "local".
func (b *LocalBackend) Type() string {
	return "local"
}

// Close is a no-op for local storage.
func (b *LocalBackend) Close() error {
	return nil
}
