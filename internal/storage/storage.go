// Package storage defines the object storage contract consumed by the
// extraction pipeline and the resource path layout on top of it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable marks a backend failure. Callers must surface it so the
	// event can be retried upstream.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")
)

// Info describes a stored object.
type Info struct {
	Path        string
	Size        int64
	IsDir       bool
	ModTime     time.Time
	ContentType string
	ETag        string
}

// Store is the object storage backend. Paths are "bucket/key" strings.
type Store interface {
	Exists(ctx context.Context, path string) (bool, error)
	Info(ctx context.Context, path string) (Info, error)
	// Checksum returns the hex encoded sha256 of the object bytes.
	Checksum(ctx context.Context, path string) (string, error)
	IsDir(ctx context.Context, path string) (bool, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Delete(ctx context.Context, path string) error
	// List returns the paths of all objects under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Unavailable wraps err as ErrUnavailable unless it already is, or is ErrNotFound.
func Unavailable(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s %s: %w: %v", op, path, ErrUnavailable, err)
}

// NotFound builds an ErrNotFound error for path.
func NotFound(path string) error {
	return fmt.Errorf("%s: %w", path, ErrNotFound)
}

// Overlay reports extra paths as existing on top of a Store. Delete events
// classify against pre-delete membership through it.
type Overlay struct {
	Store
	present map[string]bool
}

// WithPresent returns a Store that answers Exists(p) == true for every p in paths.
func WithPresent(s Store, paths ...string) *Overlay {
	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[p] = true
	}
	return &Overlay{Store: s, present: present}
}

func (o *Overlay) Exists(ctx context.Context, path string) (bool, error) {
	if o.present[path] {
		return true, nil
	}
	return o.Store.Exists(ctx, path)
}
