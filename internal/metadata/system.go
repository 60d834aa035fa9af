package metadata

import (
	"context"

	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
)

// resourceMarkerObject covers the resource level marker documents. Neither owns
// an aggregation document; a change regenerates the resource document.
type resourceMarkerObject struct {
	*baseObject
	contentType types.ContentType
	marker      string
}

func (r *resourceMarkerObject) ContentType() types.ContentType { return r.contentType }
func (r *resourceMarkerObject) UserMetadataPath() string { return r.marker }

func matchSystem(ctx context.Context, e *env, store storage.Store, p storage.Path, fileUpdated bool) (Object, error) {
	if p.Tree != storage.TreeMetadata || p.Rel != storage.SystemMetadataName {
		return nil, nil
	}
	return &resourceMarkerObject{
		baseObject:  newBase(e, p, fileUpdated),
		contentType: types.ContentTypeSystem,
		marker:      p.SystemMetadataPath(),
	}, nil
}

func matchResourceUser(ctx context.Context, e *env, store storage.Store, p storage.Path, fileUpdated bool) (Object, error) {
	if p.Tree != storage.TreeMetadata || p.Rel != storage.UserMetadataName {
		return nil, nil
	}
	return &resourceMarkerObject{
		baseObject:  newBase(e, p, fileUpdated),
		contentType: types.ContentTypeResourceUser,
		marker:      p.UserMetadataPath(),
	}, nil
}
