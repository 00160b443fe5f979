package storage

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/timmy/memeindex/internal/domain"
)

// Router dispatches each path to the local filesystem or, for s3:// paths,
// to the S3 backend.
type Router struct {
	local *LocalStorage
	s3    Storage
}

// NewStorage creates the routing Storage. s3cfg may be nil, in which case
// s3:// paths are rejected.
// Parameters:
//   - ctx: context used while loading cloud credentials.
//   - s3cfg: S3 settings or nil.
//
// Returns:
//   - *Router: storage that serves local and s3:// paths.
//   - error: non-nil if the S3 client cannot be created.
func NewStorage(ctx context.Context, s3cfg *S3Config) (*Router, error) {
	r := &Router{local: NewLocalStorage()}
	if s3cfg != nil {
		s3store, err := NewS3Storage(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		r.s3 = s3store
	}
	return r, nil
}

func (r *Router) pick(p string) (Storage, error) {
	if !strings.HasPrefix(p, S3Scheme) {
		return r.local, nil
	}
	if r.s3 == nil {
		return nil, fmt.Errorf("%w: s3 storage is not configured for %s", domain.ErrValidation, p)
	}
	return r.s3, nil
}

// Walk implements Storage.
func (r *Router) Walk(ctx context.Context, root string) iter.Seq2[Object, error] {
	backend, err := r.pick(root)
	if err != nil {
		return func(yield func(Object, error) bool) { yield(Object{}, err) }
	}
	return backend.Walk(ctx, root)
}

// Open implements Storage.
func (r *Router) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	backend, err := r.pick(p)
	if err != nil {
		return nil, err
	}
	return backend.Open(ctx, p)
}

// Stat implements Storage.
func (r *Router) Stat(ctx context.Context, p string) (Object, error) {
	backend, err := r.pick(p)
	if err != nil {
		return Object{}, err
	}
	return backend.Stat(ctx, p)
}

// Save implements Storage.
func (r *Router) Save(ctx context.Context, p string, rd io.Reader, size int64, contentType string) error {
	backend, err := r.pick(p)
	if err != nil {
		return err
	}
	return backend.Save(ctx, p, rd, size, contentType)
}
