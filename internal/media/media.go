// Package media builds MediaObject descriptions of stored files.
package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
)

const fallbackFormat = "application/octet-stream"

// Builder turns storage paths into MediaObjects. URLBase, when set, prefixes
// contentUrl ("<URLBase>/<bucket>/<key>").
type Builder struct {
	store   storage.Store
	urlBase string
}

func NewBuilder(store storage.Store, urlBase string) *Builder {
	return &Builder{store: store, urlBase: strings.TrimSuffix(urlBase, "/")}
}

// URL returns the public form of a storage path.
func (b *Builder) URL(p string) string {
	if b.urlBase == "" {
		return p
	}
	return b.urlBase + "/" + p
}

// Build stats, hashes and types one path. A missing path returns
// storage.ErrNotFound; every other storage failure is storage.ErrUnavailable.
// A partial object is never returned.
func (b *Builder) Build(ctx context.Context, p string) (types.MediaObject, error) {
	info, err := b.store.Info(ctx, p)
	if err != nil {
		return types.MediaObject{}, err
	}

	obj := types.MediaObject{
		ContentURL:     b.URL(p),
		Name:           path.Base(p),
		EncodingFormat: EncodingFormat(p),
		Path:           p,
	}
	if info.IsDir {
		return obj, nil
	}

	sum, err := b.store.Checksum(ctx, p)
	if err != nil {
		return types.MediaObject{}, err
	}
	obj.SHA256 = sum
	obj.ContentSize = info.Size
	return obj, nil
}

// BuildAll builds every path and returns the objects sorted by path. Objects
// that vanished between listing and stat are skipped; any other failure aborts.
func (b *Builder) BuildAll(ctx context.Context, paths []string) ([]types.MediaObject, error) {
	out := make([]types.MediaObject, 0, len(paths))
	var errs *multierror.Error
	for _, p := range paths {
		obj, err := b.Build(ctx, p)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			errs = multierror.Append(errs, err)
			continue
		}
		out = append(out, obj)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("failed to build media objects: %w", err)
	}
	Sort(out)
	return out, nil
}

// Sort orders media objects by storage path.
func Sort(objs []types.MediaObject) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Path < objs[j].Path })
}

// EncodingFormat guesses a MIME type from the extension and falls back to the
// bare extension, then to application/octet-stream.
func EncodingFormat(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return fallbackFormat
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
		return t
	}
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	return strings.TrimPrefix(ext, ".")
}

// extraTypes covers formats common in resources that the system MIME tables miss.
var extraTypes = map[string]string{
	".csv":    "text/csv",
	".json":   "application/json",
	".nc":     "application/x-netcdf",
	".tif":    "image/tiff",
	".tiff":   "image/tiff",
	".vrt":    "application/xml",
	".shp":    "application/vnd.shp",
	".sqlite": "application/vnd.sqlite3",
	".txt":    "text/plain",
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
