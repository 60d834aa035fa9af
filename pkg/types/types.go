// Package types defines core data structures shared across hsextract modules.
package types

import (
	"time"
)

// ContentType is the aggregation category a file or folder is classified into.
// The set is closed; ContentTypeNone is the base fallback.
type ContentType int

const (
	ContentTypeNone ContentType = iota
	ContentTypeRaster
	ContentTypeNetCDF
	ContentTypeTimeSeries
	ContentTypeFeature
	ContentTypeSingleFile
	ContentTypeFileSet
	ContentTypeSystem
	ContentTypeResourceUser
)

var contentTypeNames = [...]string{
	ContentTypeNone:         "NONE",
	ContentTypeRaster:       "RASTER",
	ContentTypeNetCDF:       "NETCDF",
	ContentTypeTimeSeries:   "TIMESERIES",
	ContentTypeFeature:      "FEATURE",
	ContentTypeSingleFile:   "SINGLE_FILE",
	ContentTypeFileSet:      "FILE_SET",
	ContentTypeSystem:       "SYSTEM",
	ContentTypeResourceUser: "RESOURCE_USER",
}

func (c ContentType) String() string {
	if c < 0 || int(c) >= len(contentTypeNames) {
		return "UNKNOWN"
	}
	return contentTypeNames[c]
}

// AllContentTypes lists every content type, base type first.
func AllContentTypes() []ContentType {
	out := make([]ContentType, 0, len(contentTypeNames))
	for i := range contentTypeNames {
		out = append(out, ContentType(i))
	}
	return out
}

// MediaObject is the normalized description of one stored file.
type MediaObject struct {
	// ContentURL is the storage path ("bucket/key") or its public URL.
	ContentURL string `json:"contentUrl"`
	// Name is the base filename.
	Name string `json:"name"`
	// SHA256 is the hex encoded sha256 of the file bytes. Empty for folders.
	SHA256 string `json:"sha256"`
	// ContentSize is the size in bytes. Folders report 0.
	ContentSize int64 `json:"contentSize"`
	// EncodingFormat is the MIME type, or the bare extension when no MIME type is known.
	EncodingFormat string `json:"encodingFormat"`
	// Path is the storage path the object was built from. Not serialized.
	Path string `json:"-"`
}

// EventType is the kind of storage change notification.
type EventType string

const (
	EventPut    EventType = "put"
	EventDelete EventType = "delete"
)

// Event is one storage change notification.
type Event struct {
	ID   string    `json:"id"`
	Path string    `json:"path"`
	Type EventType `json:"event_type"`
	// ETag is used only for duplicate suppression.
	ETag string `json:"etag,omitempty"`
}

// ResultStatus summarizes how an event was handled.
type ResultStatus string

const (
	ResultProcessed ResultStatus = "processed"
	ResultIgnored   ResultStatus = "ignored"
	ResultDegraded  ResultStatus = "degraded"
	ResultFailed    ResultStatus = "failed"
)

// Result describes the outcome of handling one event.
type Result struct {
	Event       Event        `json:"event"`
	Status      ResultStatus `json:"status"`
	ContentType string       `json:"content_type,omitempty"`
	// Written lists document paths written, in write order.
	Written []string `json:"written,omitempty"`
	// Removed lists document paths deleted.
	Removed []string `json:"removed,omitempty"`
	// ExtractError is set when extraction failed and fields were omitted.
	ExtractError string        `json:"extract_error,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// RunSummary contains statistics for a completed reindex run.
type RunSummary struct {
	Files        int
	Aggregations int
	Processed    int
	Skipped      int
	Degraded     int
	Failed       int
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
}
