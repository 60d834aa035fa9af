package metadata

import (
	"context"
	"path"
	"strings"

	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
)

type matchFunc func(ctx context.Context, e *env, store storage.Store, p storage.Path, fileUpdated bool) (Object, error)

// classifierChain is the static priority table. The structural types come
// before the marker-driven ones: a raster with a sidecar marker is still a
// raster. Reordering changes classification results.
var classifierChain = []struct {
	contentType types.ContentType
	match       matchFunc
}{
	{types.ContentTypeRaster, matchRaster},
	{types.ContentTypeTimeSeries, matchTimeSeries},
	{types.ContentTypeNetCDF, matchNetCDF},
	{types.ContentTypeFeature, matchFeature},
	{types.ContentTypeSingleFile, matchSingleFile},
	{types.ContentTypeFileSet, matchFileSet},
	{types.ContentTypeSystem, matchSystem},
	{types.ContentTypeResourceUser, matchResourceUser},
}

// Priority returns the classification order.
func Priority() []types.ContentType {
	out := make([]types.ContentType, len(classifierChain))
	for i, c := range classifierChain {
		out[i] = c.contentType
	}
	return out
}

// Classifier selects the owning metadata object of a path.
type Classifier struct {
	env *env
}

// NewClassifier builds a classifier over store. A nil stager stages into the
// system temp dir.
func NewClassifier(store storage.Store, stager *Stager) *Classifier {
	if stager == nil {
		stager = NewStager(nil, "")
	}
	return &Classifier{env: &env{store: store, stager: stager}}
}

// DetermineMetadataObject runs the chain; the first match wins and the base
// object is returned when nothing matches. Only storage failures are errors.
func (c *Classifier) DetermineMetadataObject(ctx context.Context, p string, fileUpdated bool) (Object, error) {
	parsed, err := storage.ParsePath(p)
	if err != nil {
		return nil, err
	}
	return c.determine(ctx, c.env.store, parsed, fileUpdated)
}

// DetermineDeleted classifies a path that was just removed, against the
// membership it had before removal.
func (c *Classifier) DetermineDeleted(ctx context.Context, p string) (Object, error) {
	parsed, err := storage.ParsePath(p)
	if err != nil {
		return nil, err
	}
	return c.determine(ctx, storage.WithPresent(c.env.store, parsed.String()), parsed, true)
}

func (c *Classifier) determine(ctx context.Context, store storage.Store, p storage.Path, fileUpdated bool) (Object, error) {
	for _, entry := range classifierChain {
		obj, err := entry.match(ctx, c.env, store, p, fileUpdated)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			return obj, nil
		}
	}
	return newBase(c.env, p, fileUpdated), nil
}

// FileSet builds the file-set object of folder directly, for folder marker
// events and ancestor regeneration.
func (c *Classifier) FileSet(res storage.Resource, folder string) Object {
	p := storage.Path{Resource: res, Tree: storage.TreeContents, Rel: folder}
	return newFileSet(c.env, p, folder, false)
}

// EnclosingFileSet returns the folder of the nearest file-set strictly
// containing rel, or ok=false when only the resource encloses it.
func (c *Classifier) EnclosingFileSet(ctx context.Context, res storage.Resource, rel string) (string, bool, error) {
	return findFileSet(ctx, c.env.store, res, rel)
}

func ext(rel string) string {
	return strings.ToLower(path.Ext(rel))
}

func contentsOnly(p storage.Path) bool {
	return p.Tree == storage.TreeContents && p.Rel != ""
}

// findCompanion looks for base+ext in lower then upper case.
func findCompanion(ctx context.Context, store storage.Store, res storage.Resource, base, ext string) (string, bool, error) {
	for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
		ok, err := store.Exists(ctx, res.Content(candidate))
		if err != nil {
			return "", false, err
		}
		if ok {
			return candidate, true, nil
		}
	}
	return "", false, nil
}
