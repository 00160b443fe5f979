package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/timmy/memeindex/internal/domain"
)

// LocalStorage reads and writes the local filesystem.
type LocalStorage struct{}

// NewLocalStorage creates a LocalStorage.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{}
}

// Walk implements Storage.
func (s *LocalStorage) Walk(ctx context.Context, root string) iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			yield(Object{}, fmt.Errorf("%w: resolve %s: %v", domain.ErrIO, root, err))
			return
		}
		err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if p != absRoot && isHidden(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			format, ok := ImageFormat(d.Name())
			if !ok || !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			obj := Object{Path: p, Size: info.Size(), ModTime: info.ModTime(), Format: format}
			if !yield(obj, nil) {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			yield(Object{}, fmt.Errorf("%w: walk %s: %w", domain.ErrIO, root, err))
		}
	}
}

// Open implements Storage.
func (s *LocalStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapFSError("open", path, err)
	}
	return f, nil
}

// Stat implements Storage.
func (s *LocalStorage) Stat(ctx context.Context, path string) (Object, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Object{}, wrapFSError("stat", path, err)
	}
	if info.IsDir() {
		return Object{}, fmt.Errorf("%w: %s is a directory", domain.ErrIO, path)
	}
	format, _ := ImageFormat(path)
	return Object{Path: path, Size: info.Size(), ModTime: info.ModTime(), Format: format}, nil
}

// Save implements Storage. The file is written next to its destination and
// hard-linked into place, so an existing file is never replaced.
func (s *LocalStorage) Save(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return wrapFSError("mkdir", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return wrapFSError("create", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return wrapFSError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		return wrapFSError("close", path, err)
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		return wrapFSError("link", path, err)
	}
	return nil
}

// wrapFSError keeps fs.ErrNotExist and fs.ErrExist matchable and tags
// everything else as ErrIO.
func wrapFSError(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	return fmt.Errorf("%w: %s %s: %w", domain.ErrIO, op, path, err)
}
