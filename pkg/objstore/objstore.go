// Package objstore reads and writes job inputs and outputs on the local
// filesystem or on S3-compatible object storage.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrNotObject is returned when a key names a directory or prefix instead of an object.
	ErrNotObject = errors.New("not an object")
	// ErrUnsupportedScheme is returned for location schemes without a store.
	ErrUnsupportedScheme = errors.New("unsupported location scheme")
	// ErrInvalidLocation is returned when a location cannot be parsed.
	ErrInvalidLocation = errors.New("invalid location")
)

// File is an open object supporting random access, as required by Parquet readers.
type File interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
	Size() int64
}

// Store is a flat key space of objects.
type Store interface {
	// Open opens the object at key for reading.
	Open(ctx context.Context, key string) (File, error)
	// Put writes size bytes from r to key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// List returns all object keys under prefix, recursively, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// RemoveAll removes every object under prefix, and the object named prefix itself.
	RemoveAll(ctx context.Context, prefix string) error
}

// Scheme identifies the store backing a location.
type Scheme string

const (
	SchemeFile Scheme = "file"
	SchemeS3   Scheme = "s3"
	SchemeS3A  Scheme = "s3a"
)

// Location is a parsed dataset or object address.
//
//	s3a://bucket/data/telemetry.parquet -> {s3a, bucket, data/telemetry.parquet}
//	file:///tmp/out                     -> {file, "", /tmp/out}
//	records/a.parquet                   -> {file, "", records/a.parquet}
type Location struct {
	Scheme Scheme
	Bucket string
	Key    string
}

// ParseLocation parses a location string.
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("%w: empty", ErrInvalidLocation)
	}
	if !strings.Contains(raw, "://") {
		return Location{Scheme: SchemeFile, Key: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	switch Scheme(strings.ToLower(u.Scheme)) {
	case SchemeFile:
		if u.Path == "" {
			return Location{}, fmt.Errorf("%w: %q has no path", ErrInvalidLocation, raw)
		}
		return Location{Scheme: SchemeFile, Key: u.Path}, nil
	case SchemeS3, SchemeS3A:
		if u.Host == "" {
			return Location{}, fmt.Errorf("%w: %q has no bucket", ErrInvalidLocation, raw)
		}
		return Location{
			Scheme: Scheme(strings.ToLower(u.Scheme)),
			Bucket: u.Host,
			Key:    strings.TrimPrefix(u.Path, "/"),
		}, nil
	}
	return Location{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

// MustParseLocation is like ParseLocation but panics on error.
func MustParseLocation(raw string) Location {
	loc, err := ParseLocation(raw)
	if err != nil {
		panic(err)
	}
	return loc
}

// Join returns the location with elem appended to its key.
func (l Location) Join(elem ...string) Location {
	parts := append([]string{l.Key}, elem...)
	l.Key = path.Join(parts...)
	return l
}

// IsRemote reports whether the location lives in object storage.
func (l Location) IsRemote() bool {
	return l.Scheme == SchemeS3 || l.Scheme == SchemeS3A
}

// String returns the location in URL form.
func (l Location) String() string {
	if l.IsRemote() {
		return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Key)
	}
	return l.Key
}

// Resolver hands out stores for locations, creating one S3 client per bucket.
type Resolver struct {
	cfg   S3Config
	local Store

	mu      sync.Mutex
	buckets map[string]*S3
}

// NewResolver creates a resolver using cfg for remote locations.
func NewResolver(cfg S3Config) *Resolver {
	return &Resolver{
		cfg:     cfg,
		local:   NewFS(""),
		buckets: make(map[string]*S3),
	}
}

// Resolve returns the store holding loc.
func (r *Resolver) Resolve(loc Location) (Store, error) {
	switch loc.Scheme {
	case SchemeFile, "":
		return r.local, nil
	case SchemeS3, SchemeS3A:
		r.mu.Lock()
		defer r.mu.Unlock()
		if s, ok := r.buckets[loc.Bucket]; ok {
			return s, nil
		}
		s, err := NewS3(r.cfg, loc.Bucket)
		if err != nil {
			return nil, err
		}
		r.buckets[loc.Bucket] = s
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, loc.Scheme)
}
