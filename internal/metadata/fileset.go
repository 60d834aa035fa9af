package metadata

import (
	"context"

	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
)

// fileSetObject owns every content file under a marked folder.
type fileSetObject struct {
	*baseObject
	folder string
}

func newFileSet(e *env, p storage.Path, folder string, fileUpdated bool) *fileSetObject {
	return &fileSetObject{baseObject: newBase(e, p, fileUpdated), folder: folder}
}

func (f *fileSetObject) ContentType() types.ContentType { return types.ContentTypeFileSet }
func (f *fileSetObject) ContentsPath() string { return f.folder }
func (f *fileSetObject) DocumentPath() string { return f.path.FolderDocument(f.folder) }
func (f *fileSetObject) UserMetadataPath() string { return f.path.FolderMarker(f.folder) }

func (f *fileSetObject) AssociatedMedia() []types.MediaObject {
	return f.selectMedia(func(rel string) bool { return storage.InFolder(rel, f.folder) })
}

func matchFileSet(ctx context.Context, e *env, store storage.Store, p storage.Path, fileUpdated bool) (Object, error) {
	if !contentsOnly(p) {
		return nil, nil
	}
	folder, ok, err := findFileSet(ctx, store, p.Resource, p.Rel)
	if err != nil || !ok {
		return nil, err
	}
	return newFileSet(e, p, folder, fileUpdated), nil
}

// findFileSet walks up from the parent of rel and returns the nearest folder
// carrying a marker. The walk ends at the resource root, whose marker belongs
// to the resource, and takes at most Depth(rel) steps.
func findFileSet(ctx context.Context, store storage.Store, res storage.Resource, rel string) (string, bool, error) {
	folder, ok := storage.ParentFolder(rel)
	for steps := storage.Depth(rel); ok && folder != "" && steps > 0; steps-- {
		found, err := store.Exists(ctx, res.FolderMarker(folder))
		if err != nil {
			return "", false, err
		}
		if found {
			return folder, true, nil
		}
		folder, ok = storage.ParentFolder(folder)
	}
	return "", false, nil
}
