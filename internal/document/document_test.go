package document

import (
	"bytes"
	"testing"
	"time"

	"github.com/hydroshare/hsextract/pkg/types"
)

func sampleDocument() *Document {
	return &Document{
		URL:         "b/r/.hsjsonld/folder/dataset_metadata.json",
		Name:        "folder",
		ContentType: types.ContentTypeFileSet,
		AssociatedMedia: []types.MediaObject{
			{ContentURL: "b/r/data/contents/folder/z.txt", Name: "z.txt", SHA256: "2", ContentSize: 2},
			{ContentURL: "b/r/data/contents/folder/a.txt", Name: "a.txt", SHA256: "1", ContentSize: 1},
		},
		HasPart:      []string{"y", "x", "y"},
		IsPartOf:     []string{"b/r/.hsjsonld/dataset_metadata.json"},
		Extracted:    map[string]any{"bands": 3},
		UserMetadata: map[string]any{"user_metadata": "hello", KeyURL: "spoofed"},
		DateModified: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestMarshal_IsDeterministic(t *testing.T) {
	first, err := sampleDocument().Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := sampleDocument().Marshal()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("marshal output differs:\n%s\n%s", first, again)
		}
	}
}

func TestMarshal_ReservedKeysWinAndListsAreSorted(t *testing.T) {
	data, err := sampleDocument().Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	raw, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if raw[KeyURL] != "b/r/.hsjsonld/folder/dataset_metadata.json" {
		t.Fatalf("user metadata must not override url, got %v", raw[KeyURL])
	}
	if raw["user_metadata"] != "hello" {
		t.Fatalf("user metadata not merged: %v", raw["user_metadata"])
	}
	if raw[KeyAdditionalType] != "FILE_SET" {
		t.Fatalf("unexpected additionalType: %v", raw[KeyAdditionalType])
	}
	if parts := raw.Strings(KeyHasPart); len(parts) != 2 || parts[0] != "x" || parts[1] != "y" {
		t.Fatalf("hasPart not sorted/unique: %v", parts)
	}
	media := raw.Media()
	if len(media) != 2 || media[0].Name != "a.txt" || media[1].ContentSize != 2 {
		t.Fatalf("unexpected media: %+v", media)
	}
	if raw[KeyDateModified] != "2024-01-02T03:04:05Z" {
		t.Fatalf("unexpected dateModified: %v", raw[KeyDateModified])
	}
	if _, ok := raw.WithoutVolatile()[KeyDateModified]; ok {
		t.Fatal("WithoutVolatile kept dateModified")
	}
}

func TestMarshal_EmptyListsAreArrays(t *testing.T) {
	data, err := (&Document{URL: "u"}).Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(data, []byte(`"hasPart": []`)) || !bytes.Contains(data, []byte(`"associatedMedia": []`)) {
		t.Fatalf("expected empty arrays, got %s", data)
	}
	if bytes.Contains(data, []byte(KeyDateModified)) {
		t.Fatalf("zero dateModified should be omitted: %s", data)
	}
}

func TestParse_RejectsInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
	raw, err := Parse([]byte("null"))
	if err != nil || raw == nil {
		t.Fatalf("null should decode to empty document, got %v %v", raw, err)
	}
}

func TestPick(t *testing.T) {
	raw := Raw{"a": 1.0, "b": "x"}
	got := raw.Pick("a", "c")
	if len(got) != 1 || got["a"] != 1.0 {
		t.Fatalf("unexpected pick: %v", got)
	}
}
