package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/edsrzf/mmap-go"
)

// FS is a Store on the local filesystem. Keys are slash-separated paths,
// relative to root when root is set.
type FS struct {
	root string
}

// NewFS creates a filesystem store. An empty root uses keys as paths directly.
func NewFS(root string) *FS {
	return &FS{root: root}
}

func (s *FS) path(key string) string {
	p := filepath.FromSlash(key)
	if s.root == "" {
		return p
	}
	return filepath.Join(s.root, p)
}

// mmapFile serves reads from a read-only memory mapping of the file.
type mmapFile struct {
	*bytes.Reader
	data mmap.MMap
	f    *os.File
}

func (m *mmapFile) Close() error {
	var unmapErr error
	if m.data != nil {
		unmapErr = m.data.Unmap()
	}
	return errors.Join(unmapErr, m.f.Close())
}

// Open memory-maps the file at key.
func (s *FS) Open(_ context.Context, key string) (File, error) {
	p := s.path(key)
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotObject, p)
	}
	// zero-length files cannot be mapped
	if info.Size() == 0 {
		return &mmapFile{Reader: bytes.NewReader(nil), f: f}, nil
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", p, err)
	}
	return &mmapFile{Reader: bytes.NewReader(data), data: data, f: f}, nil
}

// Put writes to a temporary file next to the target and renames it into place.
func (s *FS) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	p := s.path(key)
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to rename into %s: %w", p, err)
	}
	return nil
}

// List walks the directory named by prefix. A missing directory lists nothing.
func (s *FS) List(_ context.Context, prefix string) ([]string, error) {
	root := s.path(prefix)
	var keys []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(filepath.Join(filepath.FromSlash(prefix), rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// RemoveAll deletes the file or directory tree at prefix.
func (s *FS) RemoveAll(_ context.Context, prefix string) error {
	if err := os.RemoveAll(s.path(prefix)); err != nil {
		return fmt.Errorf("remove %s: %w", prefix, err)
	}
	return nil
}
