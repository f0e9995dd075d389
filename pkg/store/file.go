package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

const fileSuffix = ".batch"

// File is a directory-backed store: one file per key, written atomically
// (temp file then rename) so a crash mid-write never corrupts an entry.
type File struct {
	dir string
}

// NewFile creates a store rooted at dir. The directory is created on first
// write.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

// Keys returns all stored keys beginning with prefix.
func (f *File) Keys(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		key := strings.TrimSuffix(name, fileSuffix)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Get returns the value for key, or (nil, nil) if absent.
func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Set writes the value for key atomically.
func (f *File) Set(ctx context.Context, key string, value []byte) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return err
	}
	path := f.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Remove deletes the entry for key. Removing an absent key is a no-op.
func (f *File) Remove(ctx context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, key+fileSuffix)
}
