package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hydroshare/hsextract/pkg/types"
)

// TestLoad_ReturnsEmptyStateWhenFileMissing checks a missing ledger is not an error.
func TestLoad_ReturnsEmptyStateWhenFileMissing(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "state", "state.json")

	st, err := Load(filePath)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if st == nil {
		t.Fatal("expected non-nil state")
	}
	if len(st.Documents) != 0 {
		t.Fatalf("expected empty ledger, got %d", len(st.Documents))
	}
}

// TestStateMarkAndIsUnchanged checks fingerprint comparison per document.
func TestStateMarkAndIsUnchanged(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "state.json"))
	st.Mark("b/r/.hsjsonld/a.tif.json", "RASTER", "f1")

	if !st.IsUnchanged("b/r/.hsjsonld/a.tif.json", "f1") {
		t.Fatal("expected document to be unchanged")
	}
	if st.IsUnchanged("b/r/.hsjsonld/a.tif.json", "f2") {
		t.Fatal("expected fingerprint mismatch to report a change")
	}
	if st.IsUnchanged("b/r/.hsjsonld/other.json", "f1") {
		t.Fatal("expected unknown document to report a change")
	}
	if st.LastRun.IsZero() {
		t.Fatal("expected LastRun to be set")
	}

	st.Forget("b/r/.hsjsonld/a.tif.json")
	if st.IsUnchanged("b/r/.hsjsonld/a.tif.json", "f1") {
		t.Fatal("expected forgotten document to report a change")
	}
}

// TestStateSaveAndLoad_RoundTrip checks the ledger survives a reload.
func TestStateSaveAndLoad_RoundTrip(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "nested", "state.json")
	st := New(filePath)
	st.Mark("b/r/.hsjsonld/r.json", "", "abc")

	if err := st.Save(); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	if _, err := os.Stat(filePath + ".part"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}

	loaded, err := Load(filePath)
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	entry, ok := loaded.Documents["b/r/.hsjsonld/r.json"]
	if !ok {
		t.Fatal("expected entry after reload")
	}
	if entry.Fingerprint != "abc" || entry.Timestamp.IsZero() {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

// TestLoad_InvalidJSONReturnsError checks corrupt ledgers surface an error.
func TestLoad_InvalidJSONReturnsError(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(filePath, []byte("{not-json"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if _, err := Load(filePath); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

// TestFingerprint_IgnoresOrder checks media order does not change the fingerprint.
func TestFingerprint_IgnoresOrder(t *testing.T) {
	const parent = "b/r/.hsjsonld/dataset_metadata.json"
	a := types.MediaObject{ContentURL: "b/r/data/contents/a", SHA256: "1"}
	b := types.MediaObject{ContentURL: "b/r/data/contents/b", SHA256: "2"}

	if Fingerprint(parent, []types.MediaObject{a, b}) != Fingerprint(parent, []types.MediaObject{b, a}) {
		t.Fatal("expected order-independent fingerprint")
	}
	changed := b
	changed.SHA256 = "3"
	if Fingerprint(parent, []types.MediaObject{a, b}) == Fingerprint(parent, []types.MediaObject{a, changed}) {
		t.Fatal("expected checksum change to change the fingerprint")
	}
}

// TestFingerprint_CoversParent checks a new parent document changes the fingerprint.
func TestFingerprint_CoversParent(t *testing.T) {
	media := []types.MediaObject{{ContentURL: "b/r/data/contents/set/a.csv", SHA256: "1"}}

	if Fingerprint("b/r/.hsjsonld/dataset_metadata.json", media) == Fingerprint("b/r/.hsjsonld/set/dataset_metadata.json", media) {
		t.Fatal("expected parent change to change the fingerprint")
	}
}
