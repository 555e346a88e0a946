// Package store keeps finished downloads in an object store bucket.
//
// Downloads are streamed to a local staging file first so interrupted
// transfers can resume with a range request, then committed into the bucket.
// The location handed back to callers is the object key.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// ErrNotFound is returned when a location does not exist in the bucket.
var ErrNotFound = errors.New("store: location not found")

// Options configures a Store.
type Options struct {
	// Prefix is prepended to every object key.
	// Default: "downloads"
	Prefix string

	// Staging is the directory for in-flight download files.
	// Default: os.TempDir()
	Staging string
}

// Option is a functional option for configuring a Store.
type Option func(*Options)

// WithPrefix sets the object key prefix.
func WithPrefix(prefix string) Option {
	return func(o *Options) { o.Prefix = prefix }
}

// WithStaging sets the staging directory.
func WithStaging(dir string) Option {
	return func(o *Options) { o.Staging = dir }
}

// Store commits downloaded files into a bucket.
type Store struct {
	bucket *blob.Bucket
	owned  bool
	opts   Options
}

// Open opens the bucket at bucketURL (for example "file:///var/cache/app",
// "mem://" or "s3://bucket?region=...").
func Open(ctx context.Context, bucketURL string, opts ...Option) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	s := New(bucket, opts...)
	s.owned = true
	return s, nil
}

// New wraps an already opened bucket. Close does not close it.
func New(bucket *blob.Bucket, opts ...Option) *Store {
	o := Options{
		Prefix:  "downloads",
		Staging: os.TempDir(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{bucket: bucket, opts: o}
}

// Stage creates an empty staging file for a download.
func (s *Store) Stage() (*os.File, error) {
	if err := os.MkdirAll(s.opts.Staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	f, err := os.CreateTemp(s.opts.Staging, "networkkit-*.part")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return f, nil
}

// Commit copies the staging file into the bucket under a fresh key derived
// from name and returns its location.
func (s *Store) Commit(ctx context.Context, f *os.File, name string) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind staging file: %w", err)
	}

	key := s.key(name)
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return "", fmt.Errorf("create writer: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	return key, nil
}

// Open returns a reader for a committed location.
func (s *Store) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, location, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	return r, nil
}

// Remove deletes a committed location. Missing locations are not an error.
func (s *Store) Remove(ctx context.Context, location string) error {
	if err := s.bucket.Delete(ctx, location); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete %s: %w", location, err)
	}
	return nil
}

// Close closes the bucket if the Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.bucket.Close()
}

func (s *Store) key(name string) string {
	name = path.Base(strings.TrimSuffix(name, "/"))
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	return path.Join(s.opts.Prefix, uuid.NewString(), name)
}
