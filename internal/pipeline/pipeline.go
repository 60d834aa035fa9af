// Package pipeline turns storage change events into JSON-LD documents.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hydroshare/hsextract/internal/document"
	"github.com/hydroshare/hsextract/internal/log"
	"github.com/hydroshare/hsextract/internal/media"
	"github.com/hydroshare/hsextract/internal/metadata"
	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
	"go.uber.org/zap"
)

type Options struct {
	// BaseURL prefixes contentUrl and document links.
	BaseURL string
	Stager  *metadata.Stager
	Logger  *log.Logger
	// Jobs bounds the reindex worker pool.
	Jobs int
	// Now stamps dateModified. Defaults to time.Now.
	Now func() time.Time
}

type Pipeline struct {
	store      storage.Store
	classifier *metadata.Classifier
	builder    *media.Builder
	logger     *log.Logger
	jobs       int
	now        func() time.Time

	progressCallback ProgressCallback
}

func New(store storage.Store, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}
	return &Pipeline{
		store:      store,
		classifier: metadata.NewClassifier(store, opts.Stager),
		builder:    media.NewBuilder(store, opts.BaseURL),
		logger:     logger,
		jobs:       jobs,
		now:        now,
	}
}

func (p *Pipeline) SetProgressCallback(cb ProgressCallback) {
	p.progressCallback = cb
}

// target is an event resolved to the object that owns it.
type target struct {
	obj         metadata.Object
	fileUpdated bool
	// trigger is the contents-relative path the event concerns, if any.
	trigger string
	// deleted is set when trigger was removed; obj was classified against the
	// membership before the removal.
	deleted bool
	// folderMarker is set when a file-set appeared or disappeared.
	folderMarker bool
}

// outcome collects what one unit of work changed.
type outcome struct {
	written    []string
	removed    []string
	extractErr error
}

// Handle processes one storage event. The returned error is non-nil only when
// storage failed; the event should then be retried.
func (p *Pipeline) Handle(ctx context.Context, ev types.Event) (types.Result, error) {
	start := time.Now()
	result := types.Result{Event: ev, Status: types.ResultIgnored}

	tgt, ok, err := p.resolve(ctx, ev)
	if err == nil && ok {
		result.ContentType = tgt.obj.ContentType().String()
		var out outcome
		err = p.apply(ctx, tgt, &out)
		result.Written = out.written
		result.Removed = out.removed
		result.Status = types.ResultProcessed
		if out.extractErr != nil {
			result.Status = types.ResultDegraded
			result.ExtractError = out.extractErr.Error()
		}
	}
	if err != nil {
		result.Status = types.ResultFailed
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)
	p.logger.LogResult(result)

	if err != nil {
		return result, fmt.Errorf("failed to process %s: %w", ev.Path, err)
	}
	return result, nil
}

// resolve maps an event path to its owning object. Paths outside the
// resource layout and the generated jsonld tree resolve to nothing.
func (p *Pipeline) resolve(ctx context.Context, ev types.Event) (target, bool, error) {
	parsed, err := storage.ParsePath(ev.Path)
	if err != nil || parsed.Rel == "" {
		return target{}, false, nil
	}
	deleted := ev.Type == types.EventDelete

	switch parsed.Tree {
	case storage.TreeJSONLD:
		return target{}, false, nil

	case storage.TreeContents:
		var obj metadata.Object
		if deleted {
			obj, err = p.classifier.DetermineDeleted(ctx, parsed.String())
		} else {
			obj, err = p.classifier.DetermineMetadataObject(ctx, parsed.String(), true)
		}
		if err != nil {
			return target{}, false, err
		}
		return target{obj: obj, fileUpdated: true, trigger: parsed.Rel, deleted: deleted}, true, nil
	}

	rel := parsed.Rel
	switch {
	case rel == storage.UserMetadataName || rel == storage.SystemMetadataName:
		obj, err := p.classifier.DetermineMetadataObject(ctx, parsed.String(), false)
		if err != nil {
			return target{}, false, err
		}
		return target{obj: obj}, true, nil

	case strings.HasSuffix(rel, "/"+storage.UserMetadataName):
		folder := path.Dir(rel)
		return target{obj: p.classifier.FileSet(parsed.Resource, folder), folderMarker: true}, true, nil

	case strings.HasSuffix(rel, storage.UserMetadataSuffix):
		content := strings.TrimSuffix(rel, storage.UserMetadataSuffix)
		if path.Base(content) == "" || strings.HasSuffix(content, "/") {
			return target{}, false, nil
		}
		obj, err := p.classifier.DetermineMetadataObject(ctx, parsed.Resource.Content(content), false)
		if err != nil {
			return target{}, false, err
		}
		return target{obj: obj, trigger: content}, true, nil
	}
	return target{}, false, nil
}

func (p *Pipeline) apply(ctx context.Context, tgt target, out *outcome) error {
	obj := tgt.obj
	res := obj.Resource()

	resourceMedia, err := p.resourceMedia(ctx, res)
	if err != nil {
		return err
	}
	obj.SetResourceMedia(resourceMedia)

	if tgt.folderMarker {
		if err := p.relink(ctx, res, obj.ContentsPath(), resourceMedia, out); err != nil {
			return err
		}
	}
	if obj.DocumentPath() != "" {
		current := true
		if tgt.deleted {
			if current, err = p.stillClassifies(ctx, obj); err != nil {
				return err
			}
		}
		if current {
			err = p.update(ctx, obj, tgt.fileUpdated, out)
		} else {
			err = p.remove(ctx, obj.DocumentPath(), out)
		}
		if err != nil {
			return err
		}
	}
	if tgt.trigger != "" {
		stale := res.FileDocument(tgt.trigger)
		if stale != obj.DocumentPath() {
			if err := p.remove(ctx, stale, out); err != nil {
				return err
			}
		}
	}
	return p.regenerateAncestors(ctx, res, obj.ContentsPath(), resourceMedia, out)
}

// resourceMedia lists and describes every content file of res.
func (p *Pipeline) resourceMedia(ctx context.Context, res storage.Resource) ([]types.MediaObject, error) {
	paths, err := p.store.List(ctx, res.Prefix(storage.TreeContents))
	if err != nil {
		return nil, err
	}
	return p.builder.BuildAll(ctx, paths)
}

// update writes the aggregation document of obj, or removes it when the
// aggregation no longer exists.
func (p *Pipeline) update(ctx context.Context, obj metadata.Object, fileUpdated bool, out *outcome) error {
	res := obj.Resource()
	docPath := obj.DocumentPath()
	members := obj.AssociatedMedia()

	userMetadata, markerExists, err := p.readMarker(ctx, obj.UserMetadataPath())
	if err != nil {
		return err
	}
	if !owned(obj, members, markerExists) {
		return p.remove(ctx, docPath, out)
	}

	extracted, err := p.extracted(ctx, obj, fileUpdated, out)
	if err != nil {
		return err
	}
	parent, err := p.parentOf(ctx, res, obj.ContentsPath())
	if err != nil {
		return err
	}
	var hasPart []string
	if obj.ContentType() == types.ContentTypeFileSet {
		if hasPart, err = p.children(ctx, res, docPath); err != nil {
			return err
		}
	}

	doc := &document.Document{
		URL:             p.builder.URL(docPath),
		Name:            path.Base(obj.ContentsPath()),
		ContentType:     obj.ContentType(),
		AssociatedMedia: members,
		HasPart:         hasPart,
		IsPartOf:        []string{p.builder.URL(parent)},
		Extracted:       extracted,
		UserMetadata:    userMetadata,
		DateModified:    p.now(),
	}
	return p.write(ctx, docPath, doc, out)
}

// stillClassifies reports whether the primary file of obj, classified against
// the store as it is after a removal, still yields the same aggregation. A
// removed required companion dissolves the aggregation. File-sets depend only
// on their marker, which update checks.
func (p *Pipeline) stillClassifies(ctx context.Context, obj metadata.Object) (bool, error) {
	if obj.ContentType() == types.ContentTypeFileSet {
		return true, nil
	}
	current, err := p.classifier.DetermineMetadataObject(ctx, obj.Resource().Content(obj.ContentsPath()), false)
	if err != nil {
		return false, err
	}
	return current.ContentType() == obj.ContentType() && current.DocumentPath() == obj.DocumentPath(), nil
}

// owned reports whether an aggregation still exists: a file-set while its
// marker does, a file-scoped aggregation while its primary file does.
func owned(obj metadata.Object, members []types.MediaObject, markerExists bool) bool {
	if obj.ContentType() == types.ContentTypeFileSet {
		return markerExists
	}
	primary := obj.Resource().Content(obj.ContentsPath())
	for _, m := range members {
		if m.Path == primary {
			return true
		}
	}
	return false
}

// extracted runs the extractor when the file changed. Otherwise the fields of
// the previous document are carried over, provided it has the same type.
func (p *Pipeline) extracted(ctx context.Context, obj metadata.Object, fileUpdated bool, out *outcome) (map[string]any, error) {
	if !fileUpdated {
		prev, ok, err := p.readDocument(ctx, obj.DocumentPath())
		if err != nil {
			return nil, err
		}
		if ok && prev[document.KeyAdditionalType] == obj.ContentType().String() {
			return prev.Pick(obj.ExtractedKeys()...), nil
		}
	}

	fields, err := obj.ExtractMetadata(ctx)
	if err != nil {
		var extractErr *metadata.ExtractionError
		if !errors.As(err, &extractErr) {
			return nil, err
		}
		p.logger.Warn("extraction failed",
			zap.String("path", obj.FilePath()),
			zap.String("content_type", obj.ContentType().String()),
			zap.Error(err),
		)
		out.extractErr = err
		return nil, nil
	}
	return fields, nil
}

// parentOf returns the document that an aggregation on contentsPath is part
// of: the nearest enclosing file-set, else the resource document.
func (p *Pipeline) parentOf(ctx context.Context, res storage.Resource, contentsPath string) (string, error) {
	folder, ok, err := p.classifier.EnclosingFileSet(ctx, res, contentsPath)
	if err != nil {
		return "", err
	}
	if !ok {
		return res.DocumentPath(), nil
	}
	return res.FolderDocument(folder), nil
}

// children lists the documents whose parent is parentDoc, from a listing of
// the jsonld tree.
func (p *Pipeline) children(ctx context.Context, res storage.Resource, parentDoc string) ([]string, error) {
	docs, err := p.store.List(ctx, res.Prefix(storage.TreeJSONLD))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, doc := range docs {
		if doc == parentDoc {
			continue
		}
		cp, _, ok := documentContents(res, doc)
		if !ok {
			continue
		}
		parent, err := p.parentOf(ctx, res, cp)
		if err != nil {
			return nil, err
		}
		if parent == parentDoc {
			out = append(out, p.builder.URL(doc))
		}
	}
	return out, nil
}

// documentContents maps an aggregation document back to the contents path it
// describes. The resource document maps to nothing.
func documentContents(res storage.Resource, doc string) (cp string, folder bool, ok bool) {
	rel, found := res.RelOf(storage.TreeJSONLD, doc)
	if !found || rel == storage.DocumentName {
		return "", false, false
	}
	if path.Base(rel) == storage.DocumentName {
		return path.Dir(rel), true, true
	}
	if strings.HasSuffix(rel, storage.DocumentSuffix) {
		return strings.TrimSuffix(rel, storage.DocumentSuffix), false, true
	}
	return "", false, false
}

// relink regenerates every document below folder after its file-set marker
// appeared or disappeared, so their isPartOf links follow.
func (p *Pipeline) relink(ctx context.Context, res storage.Resource, folder string, resourceMedia []types.MediaObject, out *outcome) error {
	docs, err := p.store.List(ctx, res.Prefix(storage.TreeJSONLD))
	if err != nil {
		return err
	}
	for _, doc := range docs {
		cp, isFolder, ok := documentContents(res, doc)
		if !ok || !storage.InFolder(cp, folder) || cp == folder {
			continue
		}
		var obj metadata.Object
		if isFolder {
			obj = p.classifier.FileSet(res, cp)
		} else if obj, err = p.classifier.DetermineMetadataObject(ctx, res.Content(cp), false); err != nil {
			return err
		}
		obj.SetResourceMedia(resourceMedia)

		if obj.DocumentPath() != doc {
			if err := p.remove(ctx, doc, out); err != nil {
				return err
			}
			continue
		}
		if err := p.update(ctx, obj, false, out); err != nil {
			return err
		}
	}
	return nil
}

// regenerateAncestors rewrites the enclosing file-sets of contentsPath,
// nearest first, and then the resource document.
func (p *Pipeline) regenerateAncestors(ctx context.Context, res storage.Resource, contentsPath string, resourceMedia []types.MediaObject, out *outcome) error {
	cp := contentsPath
	for depth := storage.Depth(cp); depth > 0; depth-- {
		folder, ok, err := p.classifier.EnclosingFileSet(ctx, res, cp)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		fs := p.classifier.FileSet(res, folder)
		fs.SetResourceMedia(resourceMedia)
		if err := p.update(ctx, fs, false, out); err != nil {
			return err
		}
		cp = folder
	}
	return p.writeResource(ctx, res, resourceMedia, out)
}

// writeResource regenerates the resource document. User metadata comes from
// the resource user marker, overlaid by the system marker.
func (p *Pipeline) writeResource(ctx context.Context, res storage.Resource, resourceMedia []types.MediaObject, out *outcome) error {
	userMetadata, _, err := p.readMarker(ctx, res.UserMetadataPath())
	if err != nil {
		return err
	}
	systemMetadata, _, err := p.readMarker(ctx, res.SystemMetadataPath())
	if err != nil {
		return err
	}
	merged := make(map[string]any, len(userMetadata)+len(systemMetadata))
	for k, v := range userMetadata {
		merged[k] = v
	}
	for k, v := range systemMetadata {
		merged[k] = v
	}

	docPath := res.DocumentPath()
	hasPart, err := p.children(ctx, res, docPath)
	if err != nil {
		return err
	}
	doc := &document.Document{
		URL:             p.builder.URL(docPath),
		Name:            res.ID,
		AssociatedMedia: resourceMedia,
		HasPart:         hasPart,
		UserMetadata:    merged,
		DateModified:    p.now(),
	}
	return p.write(ctx, docPath, doc, out)
}

// readMarker loads a marker document. Missing markers are not errors; a
// malformed marker exists but contributes no keys.
func (p *Pipeline) readMarker(ctx context.Context, markerPath string) (map[string]any, bool, error) {
	if markerPath == "" {
		return nil, false, nil
	}
	data, err := p.store.Get(ctx, markerPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	raw, err := document.Parse(data)
	if err != nil {
		p.logger.Warn("ignoring malformed metadata", zap.String("path", markerPath), zap.Error(err))
		return nil, true, nil
	}
	return raw, true, nil
}

func (p *Pipeline) readDocument(ctx context.Context, docPath string) (document.Raw, bool, error) {
	data, err := p.store.Get(ctx, docPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	raw, err := document.Parse(data)
	if err != nil {
		return nil, false, nil
	}
	return raw, true, nil
}

func (p *Pipeline) write(ctx context.Context, docPath string, doc *document.Document, out *outcome) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if err := p.store.Put(ctx, docPath, data, document.ContentType); err != nil {
		return err
	}
	out.written = append(out.written, docPath)
	return nil
}

func (p *Pipeline) remove(ctx context.Context, docPath string, out *outcome) error {
	ok, err := p.store.Exists(ctx, docPath)
	if err != nil || !ok {
		return err
	}
	if err := p.store.Delete(ctx, docPath); err != nil {
		return err
	}
	out.removed = append(out.removed, docPath)
	return nil
}
