package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hydroshare/hsextract/pkg/types"
)

// Entry records the media an aggregation document was last built from.
type Entry struct {
	Document    string    `json:"document"`
	ContentType string    `json:"content_type"`
	Fingerprint string    `json:"fingerprint"`
	Timestamp   time.Time `json:"timestamp"`
}

// State is the reindex ledger, keyed by document path.
type State struct {
	mu        sync.RWMutex
	filePath  string
	Documents map[string]Entry `json:"documents"`
	LastRun   time.Time        `json:"last_run"`
}

func New(filePath string) *State {
	return &State{
		filePath:  filePath,
		Documents: make(map[string]Entry),
	}
}

func Load(filePath string) (*State, error) {
	s := New(filePath)

	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if s.Documents == nil {
		s.Documents = make(map[string]Entry)
	}

	return s, nil
}

func (s *State) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.filePath + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}

// Fingerprint hashes the parent document path together with the content URLs
// and checksums of media, independent of media order. A document whose parent
// changed is therefore never considered unchanged.
func Fingerprint(parent string, media []types.MediaObject) string {
	keys := make([]string, 0, len(media))
	for _, m := range media {
		keys = append(keys, m.ContentURL+"\x00"+m.SHA256)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(parent))
	h.Write([]byte{'\n'})
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *State) IsUnchanged(document, fingerprint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.Documents[document]; ok {
		return e.Fingerprint == fingerprint
	}
	return false
}

func (s *State) Mark(document, contentType, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Documents[document] = Entry{
		Document:    document,
		ContentType: contentType,
		Fingerprint: fingerprint,
		Timestamp:   time.Now(),
	}
	s.LastRun = time.Now()
}

func (s *State) Forget(document string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.Documents, document)
}
