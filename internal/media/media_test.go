package media

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"testing"

	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/internal/storage/fsstore"
	"github.com/spf13/afero"
)

type failingStore struct {
	storage.Store
}

func (failingStore) Info(ctx context.Context, p string) (storage.Info, error) {
	return storage.Info{}, storage.Unavailable("stat", p, errors.New("connection refused"))
}

// TestBuild_ChecksumMatchesIndependentHash checks the sha256 round trip.
func TestBuild_ChecksumMatchesIndependentHash(t *testing.T) {
	ctx := context.Background()
	store := fsstore.New(afero.NewMemMapFs())
	data := []byte("some,csv\n1,2\n")
	p := "b/r/data/contents/series.csv"
	if err := store.Put(ctx, p, data, ""); err != nil {
		t.Fatalf("put: %v", err)
	}

	obj, err := NewBuilder(store, "").Build(ctx, p)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if obj.SHA256 != fmt.Sprintf("%x", sha256.Sum256(data)) {
		t.Fatalf("checksum mismatch: %s", obj.SHA256)
	}
	if obj.ContentSize != int64(len(data)) {
		t.Fatalf("unexpected size: %d", obj.ContentSize)
	}
	if obj.Name != "series.csv" || obj.EncodingFormat != "text/csv" {
		t.Fatalf("unexpected name/format: %s %s", obj.Name, obj.EncodingFormat)
	}
	if obj.ContentURL != p {
		t.Fatalf("unexpected content url: %s", obj.ContentURL)
	}

	again, err := NewBuilder(store, "").Build(ctx, p)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if again != obj {
		t.Fatalf("rebuild differs: %+v vs %+v", again, obj)
	}
}

// TestBuild_FolderReportsZeroSize checks the folder sentinel size.
func TestBuild_FolderReportsZeroSize(t *testing.T) {
	ctx := context.Background()
	store := fsstore.New(afero.NewMemMapFs())
	if err := store.Put(ctx, "b/r/data/contents/dir/a.txt", []byte("abc"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}

	obj, err := NewBuilder(store, "https://example.org/").Build(ctx, "b/r/data/contents/dir")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if obj.ContentSize != 0 || obj.SHA256 != "" {
		t.Fatalf("expected folder sentinel, got %+v", obj)
	}
	if obj.ContentURL != "https://example.org/b/r/data/contents/dir" {
		t.Fatalf("unexpected url: %s", obj.ContentURL)
	}
}

// TestBuild_PropagatesStorageUnavailable checks that backend failures surface.
func TestBuild_PropagatesStorageUnavailable(t *testing.T) {
	_, err := NewBuilder(failingStore{}, "").Build(context.Background(), "b/r/data/contents/x")
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	_, err = NewBuilder(failingStore{}, "").BuildAll(context.Background(), []string{"b/r/data/contents/x"})
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from BuildAll, got %v", err)
	}
}

// TestBuild_MissingPathIsNotFound checks a vanished path is reported as
// not found rather than as an unavailable store.
func TestBuild_MissingPathIsNotFound(t *testing.T) {
	store := fsstore.New(afero.NewMemMapFs())
	_, err := NewBuilder(store, "").Build(context.Background(), "b/r/data/contents/gone.txt")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("missing path must not be reported as unavailable: %v", err)
	}
}

// TestBuildAll_SkipsVanishedAndSorts checks tolerance to files removed after listing.
func TestBuildAll_SkipsVanishedAndSorts(t *testing.T) {
	ctx := context.Background()
	store := fsstore.New(afero.NewMemMapFs())
	for _, p := range []string{"b/r/data/contents/z.txt", "b/r/data/contents/a.txt"} {
		if err := store.Put(ctx, p, []byte(p), ""); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	objs, err := NewBuilder(store, "").BuildAll(ctx, []string{
		"b/r/data/contents/z.txt",
		"b/r/data/contents/gone.txt",
		"b/r/data/contents/a.txt",
	})
	if err != nil {
		t.Fatalf("build all: %v", err)
	}
	if len(objs) != 2 || objs[0].Name != "a.txt" || objs[1].Name != "z.txt" {
		t.Fatalf("unexpected objects: %+v", objs)
	}
}

func TestEncodingFormat(t *testing.T) {
	cases := map[string]string{
		"a/b.json":   "application/json",
		"a/b.nc":     "application/x-netcdf",
		"a/b.xyzq":   "xyzq",
		"a/noext":    "application/octet-stream",
		"a/B.SQLITE": "application/vnd.sqlite3",
	}
	for in, want := range cases {
		if got := EncodingFormat(in); got != want {
			t.Fatalf("EncodingFormat(%q) = %q, want %q", in, got, want)
		}
	}
}
