package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hydroshare/hsextract/internal/metadata"
	"github.com/hydroshare/hsextract/internal/state"
	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
	"go.uber.org/zap"
)

// Reindex rebuilds every document of a resource. Each aggregation is processed
// once; file-scoped aggregations whose members are unchanged according to
// ledger are skipped. A nil ledger processes everything.
func (p *Pipeline) Reindex(ctx context.Context, res storage.Resource, ledger *state.State) (*types.RunSummary, error) {
	startTime := time.Now()
	summary := &types.RunSummary{StartTime: startTime}

	p.logger.Info("Starting reindex", zap.String("bucket", res.Bucket), zap.String("resource", res.ID))
	p.progress(ProgressUpdate{Type: "status", Message: "listing resource contents"})

	resourceMedia, err := p.resourceMedia(ctx, res)
	if err != nil {
		return nil, err
	}
	summary.Files = len(resourceMedia)

	aggregations, err := p.aggregations(ctx, res, resourceMedia)
	if err != nil {
		return nil, err
	}
	summary.Aggregations = len(aggregations)

	var fileScoped, fileSets []metadata.Object
	for _, obj := range aggregations {
		if obj.ContentType() == types.ContentTypeFileSet {
			fileSets = append(fileSets, obj)
		} else {
			fileScoped = append(fileScoped, obj)
		}
	}
	// Nested file-sets first, so parents list their children.
	sort.SliceStable(fileSets, func(i, j int) bool {
		return storage.Depth(fileSets[i].ContentsPath()) > storage.Depth(fileSets[j].ContentsPath())
	})

	var (
		mu        sync.Mutex
		errs      *multierror.Error
		processed int
	)
	record := func(r types.Result, err error) {
		mu.Lock()
		defer mu.Unlock()

		processed++
		switch {
		case err != nil:
			summary.Failed++
			errs = multierror.Append(errs, err)
		case r.Status == types.ResultIgnored:
			summary.Skipped++
		case r.Status == types.ResultDegraded:
			summary.Degraded++
		default:
			summary.Processed++
		}
		p.logger.Progress(processed, len(aggregations), r.Event.Path)
		p.progress(ProgressUpdate{
			Type:    "progress",
			Current: processed,
			Total:   len(aggregations),
			Path:    r.Event.Path,
			Status:  r.Status,
		})
	}

	forEach(ctx, p.jobs, len(fileScoped), func(i int) {
		record(p.reindexOne(ctx, fileScoped[i], ledger))
	})
	for _, obj := range fileSets {
		record(p.reindexOne(ctx, obj, nil))
	}

	owned := map[string]bool{res.DocumentPath(): true}
	for _, obj := range aggregations {
		owned[obj.DocumentPath()] = true
	}
	var out outcome
	if err := p.removeOrphans(ctx, res, owned, ledger, &out); err != nil {
		errs = multierror.Append(errs, err)
	} else if err := p.writeResource(ctx, res, resourceMedia, &out); err != nil {
		errs = multierror.Append(errs, err)
	}

	if ledger != nil {
		if err := ledger.Save(); err != nil {
			p.logger.Error("Failed to save state", err)
		}
	}

	summary.EndTime = time.Now()
	summary.Duration = summary.EndTime.Sub(startTime)
	p.logger.Summary(*summary)
	p.progress(ProgressUpdate{Type: "complete", Summary: summary})

	if err := errs.ErrorOrNil(); err != nil {
		return summary, fmt.Errorf("reindex %s/%s: %w", res.Bucket, res.ID, err)
	}
	return summary, nil
}

// aggregations classifies every content file in parallel and returns one
// object per aggregation document, plus the file-sets of every folder marker.
func (p *Pipeline) aggregations(ctx context.Context, res storage.Resource, resourceMedia []types.MediaObject) ([]metadata.Object, error) {
	var (
		mu       sync.Mutex
		byDoc    = make(map[string]metadata.Object)
		firstErr error
	)
	add := func(obj metadata.Object) {
		if obj.DocumentPath() == "" {
			return
		}
		if _, ok := byDoc[obj.DocumentPath()]; !ok {
			obj.SetResourceMedia(resourceMedia)
			byDoc[obj.DocumentPath()] = obj
		}
	}

	forEach(ctx, p.jobs, len(resourceMedia), func(i int) {
		obj, err := p.classifier.DetermineMetadataObject(ctx, resourceMedia[i].Path, true)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		add(obj)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	markers, err := p.store.List(ctx, res.Prefix(storage.TreeMetadata))
	if err != nil {
		return nil, err
	}
	for _, marker := range markers {
		rel, ok := res.RelOf(storage.TreeMetadata, marker)
		if !ok || !strings.HasSuffix(rel, "/"+storage.UserMetadataName) {
			continue
		}
		add(p.classifier.FileSet(res, strings.TrimSuffix(rel, "/"+storage.UserMetadataName)))
	}

	out := make([]metadata.Object, 0, len(byDoc))
	for _, obj := range byDoc {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentPath() < out[j].DocumentPath() })
	return out, nil
}

func (p *Pipeline) reindexOne(ctx context.Context, obj metadata.Object, ledger *state.State) (types.Result, error) {
	start := time.Now()
	docPath := obj.DocumentPath()
	result := types.Result{
		Event:       types.Event{Path: obj.Resource().Content(obj.ContentsPath()), Type: types.EventPut},
		ContentType: obj.ContentType().String(),
	}

	var fingerprint string
	if ledger != nil {
		var err error
		if fingerprint, err = p.fingerprint(ctx, obj); err != nil {
			return p.finish(result, start, err)
		}
		exists, err := p.store.Exists(ctx, docPath)
		if err != nil {
			return p.finish(result, start, err)
		}
		if exists && ledger.IsUnchanged(docPath, fingerprint) {
			result.Status = types.ResultIgnored
			return p.finish(result, start, nil)
		}
	}

	var out outcome
	err := p.update(ctx, obj, true, &out)
	result.Written = out.written
	result.Removed = out.removed
	result.Status = types.ResultProcessed
	if out.extractErr != nil {
		result.Status = types.ResultDegraded
		result.ExtractError = out.extractErr.Error()
	}
	if err == nil && ledger != nil {
		switch {
		case len(out.removed) > 0:
			ledger.Forget(docPath)
		case out.extractErr == nil:
			ledger.Mark(docPath, obj.ContentType().String(), fingerprint)
		}
	}
	return p.finish(result, start, err)
}

func (p *Pipeline) finish(result types.Result, start time.Time, err error) (types.Result, error) {
	if err != nil {
		result.Status = types.ResultFailed
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)
	p.logger.LogResult(result)
	return result, err
}

// fingerprint covers the member files, the user metadata marker and the
// parent document, so a file-set appearing above an aggregation is picked up.
func (p *Pipeline) fingerprint(ctx context.Context, obj metadata.Object) (string, error) {
	parent, err := p.parentOf(ctx, obj.Resource(), obj.ContentsPath())
	if err != nil {
		return "", err
	}
	members := obj.AssociatedMedia()
	if marker := obj.UserMetadataPath(); marker != "" {
		m, err := p.builder.Build(ctx, marker)
		switch {
		case err == nil:
			members = append(members[:len(members):len(members)], m)
		case !errors.Is(err, storage.ErrNotFound):
			return "", err
		}
	}
	return state.Fingerprint(parent, members), nil
}

// removeOrphans deletes aggregation documents that no aggregation owns.
func (p *Pipeline) removeOrphans(ctx context.Context, res storage.Resource, owned map[string]bool, ledger *state.State, out *outcome) error {
	docs, err := p.store.List(ctx, res.Prefix(storage.TreeJSONLD))
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if owned[doc] {
			continue
		}
		if _, _, ok := documentContents(res, doc); !ok {
			continue
		}
		if err := p.remove(ctx, doc, out); err != nil {
			return err
		}
		if ledger != nil {
			ledger.Forget(doc)
		}
		p.logger.Info("Removed orphan document", zap.String("path", doc))
	}
	return nil
}
