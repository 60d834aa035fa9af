// Package metadata classifies stored files into aggregation content types and
// extracts type-specific metadata from them.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
)

// Object is the metadata view of one aggregation, built fresh for every event.
type Object interface {
	// FilePath is the triggering path.
	FilePath() string
	// FileUpdated reports whether the triggering path is the file that changed.
	FileUpdated() bool
	ContentType() types.ContentType
	Resource() storage.Resource
	// ContentsPath is the contents-relative folder or prefix the aggregation owns.
	ContentsPath() string
	// DocumentPath is the aggregation document, or "" when the type owns none.
	DocumentPath() string
	// UserMetadataPath is the marker merged into the document, or "".
	UserMetadataPath() string
	// SetResourceMedia hands over every media object of the resource.
	SetResourceMedia(media []types.MediaObject)
	// AssociatedMedia selects the media belonging to this aggregation.
	AssociatedMedia() []types.MediaObject
	// ExtractMetadata parses the underlying files. Failures are *ExtractionError
	// unless storage itself is unavailable.
	ExtractMetadata(ctx context.Context) (map[string]any, error)
	// ExtractedKeys lists the top-level document keys ExtractMetadata produces.
	ExtractedKeys() []string
}

// ExtractionError reports a malformed or unsupported file. The pipeline logs it
// and writes the document without extracted fields.
type ExtractionError struct {
	ContentType types.ContentType
	Path        string
	Err         error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed for %s: %v", e.ContentType, e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// extractionError wraps err unless storage itself failed.
func extractionError(ct types.ContentType, p string, err error) error {
	if errors.Is(err, storage.ErrUnavailable) {
		return err
	}
	return &ExtractionError{ContentType: ct, Path: p, Err: err}
}

// env carries what objects need after classification.
type env struct {
	store  storage.Store
	stager *Stager
}

// baseObject is the no-op fallback. Other types embed it.
type baseObject struct {
	env           *env
	path          storage.Path
	fileUpdated   bool
	resourceMedia []types.MediaObject
}

func newBase(e *env, p storage.Path, fileUpdated bool) *baseObject {
	return &baseObject{env: e, path: p, fileUpdated: fileUpdated}
}

func (b *baseObject) FilePath() string { return b.path.String() }
func (b *baseObject) FileUpdated() bool { return b.fileUpdated }
func (b *baseObject) ContentType() types.ContentType { return types.ContentTypeNone }
func (b *baseObject) Resource() storage.Resource { return b.path.Resource }
func (b *baseObject) ContentsPath() string { return "" }
func (b *baseObject) DocumentPath() string { return "" }
func (b *baseObject) UserMetadataPath() string { return "" }
func (b *baseObject) AssociatedMedia() []types.MediaObject { return nil }
func (b *baseObject) ExtractedKeys() []string { return nil }

func (b *baseObject) SetResourceMedia(media []types.MediaObject) {
	b.resourceMedia = media
}

func (b *baseObject) ExtractMetadata(ctx context.Context) (map[string]any, error) {
	return map[string]any{}, nil
}

// rel returns the contents-relative path of a media object of this resource.
func (b *baseObject) rel(m types.MediaObject) (string, bool) {
	return b.path.Resource.RelOf(storage.TreeContents, m.Path)
}

// selectMedia filters the resource media by contents-relative path.
func (b *baseObject) selectMedia(keep func(rel string) bool) []types.MediaObject {
	var out []types.MediaObject
	for _, m := range b.resourceMedia {
		if rel, ok := b.rel(m); ok && keep(rel) {
			out = append(out, m)
		}
	}
	return out
}

// fileObject is shared by the file-scoped types (NetCDF, time series, single file).
type fileObject struct {
	*baseObject
}

func (f fileObject) ContentsPath() string { return f.path.Rel }

func (f fileObject) DocumentPath() string { return f.path.FileDocument(f.path.Rel) }

func (f fileObject) AssociatedMedia() []types.MediaObject {
	return f.selectMedia(func(rel string) bool { return rel == f.path.Rel })
}

func (f fileObject) get(ctx context.Context) ([]byte, error) {
	return f.env.store.Get(ctx, f.FilePath())
}
