// Package fsstore implements storage.Store on an afero filesystem. The first
// path segment (bucket) is a top-level directory.
package fsstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/spf13/afero"
)

const partSuffix = ".part"

type Store struct {
	fs afero.Fs
}

var _ storage.Store = (*Store)(nil)

func New(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOS returns a Store rooted at dir on the local filesystem.
func NewOS(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

func native(p string) string {
	return filepath.FromSlash(path.Clean("/" + p))
}

func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	ok, err := afero.Exists(s.fs, native(p))
	if err != nil {
		return false, storage.Unavailable("exists", p, err)
	}
	return ok, nil
}

func (s *Store) Info(ctx context.Context, p string) (storage.Info, error) {
	fi, err := s.fs.Stat(native(p))
	if os.IsNotExist(err) {
		return storage.Info{}, storage.NotFound(p)
	}
	if err != nil {
		return storage.Info{}, storage.Unavailable("stat", p, err)
	}
	info := storage.Info{
		Path:    p,
		IsDir:   fi.IsDir(),
		ModTime: fi.ModTime(),
	}
	if !fi.IsDir() {
		info.Size = fi.Size()
	}
	return info, nil
}

func (s *Store) Checksum(ctx context.Context, p string) (string, error) {
	f, err := s.fs.Open(native(p))
	if os.IsNotExist(err) {
		return "", storage.NotFound(p)
	}
	if err != nil {
		return "", storage.Unavailable("open", p, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", storage.Unavailable("read", p, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (s *Store) IsDir(ctx context.Context, p string) (bool, error) {
	ok, err := afero.IsDir(s.fs, native(p))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, storage.Unavailable("stat", p, err)
	}
	return ok, nil
}

func (s *Store) Get(ctx context.Context, p string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, native(p))
	if os.IsNotExist(err) {
		return nil, storage.NotFound(p)
	}
	if err != nil {
		return nil, storage.Unavailable("read", p, err)
	}
	return data, nil
}

// Put writes to a uniquely named .part file and renames it over the target.
func (s *Store) Put(ctx context.Context, p string, data []byte, contentType string) error {
	target := native(p)
	if err := s.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return storage.Unavailable("mkdir", p, err)
	}
	part := target + "." + uuid.NewString() + partSuffix
	if err := afero.WriteFile(s.fs, part, data, 0644); err != nil {
		s.fs.Remove(part)
		return storage.Unavailable("write", p, err)
	}
	if err := s.fs.Rename(part, target); err != nil {
		s.fs.Remove(part)
		return storage.Unavailable("rename", p, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, p string) error {
	err := s.fs.Remove(native(p))
	if err != nil && !os.IsNotExist(err) {
		return storage.Unavailable("delete", p, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	root := prefix
	if !strings.HasSuffix(prefix, "/") {
		root = path.Dir(prefix)
	}
	nativeRoot := native(root)
	if ok, err := afero.DirExists(s.fs, nativeRoot); err != nil {
		return nil, storage.Unavailable("list", prefix, err)
	} else if !ok {
		return nil, nil
	}

	var paths []string
	err := afero.Walk(s.fs, nativeRoot, func(name string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if fi.IsDir() || strings.HasSuffix(name, partSuffix) {
			return nil
		}
		p := strings.TrimPrefix(filepath.ToSlash(name), "/")
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, storage.Unavailable("list", prefix, err)
	}
	sort.Strings(paths)
	return paths, nil
}
