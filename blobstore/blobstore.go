// Package blobstore wraps gocloud.dev/blob so the disk tier can
// register auxiliary read-only roots backed by a local directory, an
// S3 bucket, a GCS bucket, an Azure container, or (for tests) an
// in-memory bucket, all through one API.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

var (
	ErrNotFound           = errors.New("blobstore: object not found")
	ErrPreconditionFailed = errors.New("blobstore: precondition failed")
)

// Store is a prefix-scoped view over a gocloud.dev/blob bucket.
type Store struct {
	bucket *blob.Bucket
	prefix string
	owns   bool
}

// Open opens a bucket by URL (e.g. "file:///var/cache", "s3://bucket",
// "gs://bucket", "azblob://container", "mem://") and scopes it under
// prefix.
func Open(ctx context.Context, bucketURL, prefix string) (*Store, error) {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open bucket %q: %w", bucketURL, err)
	}
	return &Store{bucket: bkt, prefix: strings.TrimSuffix(prefix, "/"), owns: true}, nil
}

// New wraps an already-open bucket the caller owns.
func New(bkt *blob.Bucket, prefix string) *Store {
	return &Store{bucket: bkt, prefix: strings.TrimSuffix(prefix, "/"), owns: false}
}

// NewMemory opens an in-memory auxiliary root, standing in for a
// cloud-backed fallback root in tests that shouldn't need live
// credentials or a network call.
func NewMemory(prefix string) *Store {
	return New(memblob.OpenBucket(nil), prefix)
}

// NewFile opens an auxiliary root backed by a local directory,
// creating it if it doesn't already exist. This is the fallback-root
// equivalent of the primary disk tier's own namespace directory, but
// read through the same gocloud.dev/blob path every other auxiliary
// root uses.
func NewFile(ctx context.Context, dir, prefix string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create directory %s: %w", dir, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("blobstore: absolute path %s: %w", dir, err)
	}
	return Open(ctx, "file://"+absDir, prefix)
}

// NewFileTemp opens a file-backed auxiliary root under a fresh temp
// directory, for tests that need a disposable fallback root without
// wiring up a real cloud bucket.
func NewFileTemp(prefix string) (store *Store, dir string, err error) {
	dir, err = os.MkdirTemp("", "imagecache-auxroot-*")
	if err != nil {
		return nil, "", fmt.Errorf("blobstore: create temp dir: %w", err)
	}

	store, err = NewFile(context.Background(), dir, prefix)
	if err != nil {
		os.RemoveAll(dir)
		return nil, "", err
	}
	return store, dir, nil
}

func (s *Store) Close() error {
	if s.owns && s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

func (s *Store) path(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Exists reports whether name is present.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	return s.bucket.Exists(ctx, s.path(name))
}

// Read returns the full contents of name.
func (s *Store) Read(ctx context.Context, name string) ([]byte, error) {
	r, err := s.bucket.NewReader(ctx, s.path(name), nil)
	if err != nil {
		return nil, s.mapError(err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write stores data under name.
func (s *Store) Write(ctx context.Context, name string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, s.path(name), &blob.WriterOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return s.mapError(err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Delete removes name. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.bucket.Delete(ctx, s.path(name))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// BatchDeleteError reports the subset of a BatchDelete call's keys
// that failed, keyed by the name passed to BatchDelete (not the
// prefix-qualified path).
type BatchDeleteError struct {
	Failed map[string]error
}

func (e *BatchDeleteError) Error() string {
	return fmt.Sprintf("blobstore: batch delete: %d of the requested keys failed", len(e.Failed))
}

// BatchDelete deletes names concurrently, tolerating individual
// failures and missing objects. It fans out through a
// golang.org/x/sync/errgroup.Group with no concurrency limit: one
// goroutine per non-empty name.
func (s *Store) BatchDelete(ctx context.Context, names []string) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed = make(map[string]error)
	)

	for _, name := range names {
		if name == "" {
			continue
		}
		name := name
		g.Go(func() error {
			if err := s.Delete(ctx, name); err != nil {
				mu.Lock()
				failed[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if len(failed) > 0 {
		return &BatchDeleteError{Failed: failed}
	}
	return nil
}

type ObjectInfo struct {
	Key   string
	Size  int64
	IsDir bool
}

// List enumerates objects under prefix (relative to the store's own
// prefix).
func (s *Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.path(prefix)})

	var objs []ObjectInfo
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		objs = append(objs, ObjectInfo{Key: obj.Key, Size: obj.Size, IsDir: obj.IsDir})
	}
	return objs, nil
}

func (s *Store) mapError(err error) error {
	if err == nil {
		return nil
	}
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return ErrNotFound
	case gcerrors.FailedPrecondition:
		return ErrPreconditionFailed
	default:
		return err
	}
}
