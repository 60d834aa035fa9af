// Package events turns storage notifications into pipeline events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/hydroshare/hsextract/pkg/types"
	"github.com/minio/minio-go/v7/pkg/notification"
)

// Source delivers events until ctx is done.
type Source interface {
	Run(ctx context.Context, out chan<- types.Event) error
}

// FromRecord converts one S3 notification record. Records that are neither
// object creations nor removals are skipped.
func FromRecord(rec notification.Event) (types.Event, bool) {
	var typ types.EventType
	switch {
	case strings.Contains(rec.EventName, "ObjectCreated"):
		typ = types.EventPut
	case strings.Contains(rec.EventName, "ObjectRemoved"):
		typ = types.EventDelete
	default:
		return types.Event{}, false
	}

	key, err := url.QueryUnescape(rec.S3.Object.Key)
	if err != nil {
		key = rec.S3.Object.Key
	}
	if rec.S3.Bucket.Name == "" || key == "" {
		return types.Event{}, false
	}

	id := rec.S3.Object.Sequencer
	if id == "" {
		id = uuid.NewString()
	}
	return types.Event{
		ID:   id,
		Path: rec.S3.Bucket.Name + "/" + strings.TrimPrefix(key, "/"),
		Type: typ,
		ETag: strings.Trim(rec.S3.Object.ETag, `"`),
	}, true
}

// webhookBody is the payload MinIO posts to webhook targets.
type webhookBody struct {
	EventName string               `json:"EventName"`
	Key       string               `json:"Key"`
	Records   []notification.Event `json:"Records"`
}

// Decode parses a webhook notification body.
func Decode(body []byte) ([]types.Event, error) {
	var payload webhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}

	var out []types.Event
	for _, rec := range payload.Records {
		if ev, ok := FromRecord(rec); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}
