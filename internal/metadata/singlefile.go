package metadata

import (
	"context"

	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
)

// singleFileObject is a file the user described with its own marker.
type singleFileObject struct {
	fileObject
}

func (s *singleFileObject) ContentType() types.ContentType { return types.ContentTypeSingleFile }
func (s *singleFileObject) UserMetadataPath() string { return s.path.FileMarker(s.path.Rel) }

func matchSingleFile(ctx context.Context, e *env, store storage.Store, p storage.Path, fileUpdated bool) (Object, error) {
	if !contentsOnly(p) {
		return nil, nil
	}
	ok, err := store.Exists(ctx, p.FileMarker(p.Rel))
	if err != nil || !ok {
		return nil, err
	}
	return &singleFileObject{fileObject{newBase(e, p, fileUpdated)}}, nil
}
