package metadata

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/spf13/afero"
)

// Stager copies stored objects into a local scratch directory for parsers
// that need a real file (shapefiles, SQLite).
type Stager struct {
	fs  afero.Fs
	dir string
}

// NewStager stages under dir, or the system temp dir when dir is empty.
func NewStager(fs afero.Fs, dir string) *Stager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Stager{fs: fs, dir: dir}
}

// Staging is one scratch directory. Close removes it.
type Staging struct {
	fs  afero.Fs
	dir string
}

// Stage writes each storage path to the local name it maps to.
func (s *Stager) Stage(ctx context.Context, store storage.Store, files map[string]string) (*Staging, error) {
	dir, err := afero.TempDir(s.fs, s.dir, "hsextract-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	st := &Staging{fs: s.fs, dir: dir}

	for src, name := range files {
		data, err := store.Get(ctx, src)
		if err != nil {
			st.Close()
			return nil, err
		}
		if err := afero.WriteFile(s.fs, st.Path(name), data, 0o644); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to stage %s: %w", src, err)
		}
	}
	return st, nil
}

// Path returns the local path of a staged name.
func (st *Staging) Path(name string) string {
	return filepath.Join(st.dir, name)
}

func (st *Staging) Close() error {
	return st.fs.RemoveAll(st.dir)
}
