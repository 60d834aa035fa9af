// Package document encodes and decodes the JSON-LD metadata documents written
// to the .hsjsonld tree.
package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hydroshare/hsextract/pkg/types"
)

const (
	KeyContext         = "@context"
	KeyType            = "@type"
	KeyURL             = "url"
	KeyName            = "name"
	KeyAdditionalType  = "additionalType"
	KeyAssociatedMedia = "associatedMedia"
	KeyHasPart         = "hasPart"
	KeyIsPartOf        = "isPartOf"
	KeyDateModified    = "dateModified"

	SchemaContext = "https://schema.org"
	TypeDataset   = "Dataset"

	// ContentType is the MIME type documents are stored with.
	ContentType = "application/ld+json"
)

var reserved = map[string]bool{
	KeyContext:         true,
	KeyType:            true,
	KeyURL:             true,
	KeyName:            true,
	KeyAdditionalType:  true,
	KeyAssociatedMedia: true,
	KeyHasPart:         true,
	KeyIsPartOf:        true,
	KeyDateModified:    true,
}

// IsReserved reports whether key is written by the pipeline itself. Extracted
// fields and user metadata never override reserved keys.
func IsReserved(key string) bool {
	return reserved[key]
}

// Document is one aggregation (or resource) metadata document. The resource
// document carries ContentTypeNone and has no additionalType.
type Document struct {
	URL             string
	Name            string
	ContentType     types.ContentType
	AssociatedMedia []types.MediaObject
	HasPart         []string
	IsPartOf        []string
	// Extracted holds the type-specific fields.
	Extracted map[string]any
	// UserMetadata is merged verbatim from marker documents.
	UserMetadata map[string]any
	DateModified time.Time
}

// Fields flattens the document. Extracted fields are applied first, then user
// metadata, then reserved keys.
func (d *Document) Fields() map[string]any {
	out := make(map[string]any, len(d.Extracted)+len(d.UserMetadata)+len(reserved))
	for k, v := range d.Extracted {
		if !IsReserved(k) {
			out[k] = v
		}
	}
	for k, v := range d.UserMetadata {
		if !IsReserved(k) {
			out[k] = v
		}
	}

	media := make([]types.MediaObject, len(d.AssociatedMedia))
	copy(media, d.AssociatedMedia)
	sort.Slice(media, func(i, j int) bool { return media[i].ContentURL < media[j].ContentURL })

	out[KeyContext] = SchemaContext
	out[KeyType] = TypeDataset
	out[KeyURL] = d.URL
	out[KeyName] = d.Name
	if d.ContentType != types.ContentTypeNone {
		out[KeyAdditionalType] = d.ContentType.String()
	}
	out[KeyAssociatedMedia] = media
	out[KeyHasPart] = sortedUnique(d.HasPart)
	out[KeyIsPartOf] = sortedUnique(d.IsPartOf)
	if !d.DateModified.IsZero() {
		out[KeyDateModified] = d.DateModified.UTC().Format(time.RFC3339)
	}
	return out
}

// Marshal encodes the document with sorted keys and sorted link lists, so the
// same input always produces the same bytes.
func (d *Document) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d.Fields(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", d.URL, err)
	}
	return append(data, '\n'), nil
}

func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Raw is a decoded document as a generic JSON object.
type Raw map[string]any

// Parse decodes a stored document or marker file.
func Parse(data []byte) (Raw, error) {
	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if raw == nil {
		raw = Raw{}
	}
	return raw, nil
}

// Strings returns a string list field, ignoring non-string entries.
func (r Raw) Strings(key string) []string {
	list, _ := r[key].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Media returns the associatedMedia entries.
func (r Raw) Media() []types.MediaObject {
	list, _ := r[KeyAssociatedMedia].([]any)
	out := make([]types.MediaObject, 0, len(list))
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		obj := types.MediaObject{}
		obj.ContentURL, _ = m["contentUrl"].(string)
		obj.Name, _ = m["name"].(string)
		obj.SHA256, _ = m["sha256"].(string)
		obj.EncodingFormat, _ = m["encodingFormat"].(string)
		if size, ok := m["contentSize"].(float64); ok {
			obj.ContentSize = int64(size)
		}
		out = append(out, obj)
	}
	return out
}

// Pick copies the listed keys that are present.
func (r Raw) Pick(keys ...string) map[string]any {
	out := make(map[string]any)
	for _, k := range keys {
		if v, ok := r[k]; ok {
			out[k] = v
		}
	}
	return out
}

// WithoutVolatile removes fields expected to change between identical runs.
func (r Raw) WithoutVolatile() Raw {
	out := make(Raw, len(r))
	for k, v := range r {
		if k == KeyDateModified {
			continue
		}
		out[k] = v
	}
	return out
}
