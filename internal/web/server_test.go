package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/hydroshare/hsextract/internal/pipeline"
	"github.com/hydroshare/hsextract/internal/storage/fsstore"
	"github.com/hydroshare/hsextract/pkg/types"
	"github.com/spf13/afero"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := fsstore.New(afero.NewMemMapFs())
	p := pipeline.New(store, pipeline.Options{})
	s := NewServer(p, store, Options{StateFile: t.TempDir() + "/state.json"})
	t.Cleanup(s.Close)
	return s
}

// TestServerSetupRoutesAndVersionRoute checks /api/version reports the version.
func TestServerSetupRoutesAndVersionRoute(t *testing.T) {
	s := &Server{
		router:  mux.NewRouter(),
		hub:     NewHub(),
		metrics: NewMetrics(),
		version: "v9.9.9",
	}
	s.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode version response: %v", err)
	}
	if body["version"] != "v9.9.9" {
		t.Fatalf("unexpected version response: %+v", body)
	}
}

// TestNewServerAndSetVersion checks SetVersion is reflected.
func TestNewServerAndSetVersion(t *testing.T) {
	s := newTestServer(t)
	s.SetVersion("v1.2.3")

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode version response: %v", err)
	}
	if body["version"] != "v1.2.3" {
		t.Fatalf("unexpected version response: %+v", body)
	}
}

// TestServerBroadcastJSONAndProgress checks broadcasts land on the hub channel.
func TestServerBroadcastJSONAndProgress(t *testing.T) {
	s := &Server{hub: NewHub()}
	done := make(chan []byte, 2)

	go func() {
		done <- <-s.hub.broadcast
		done <- <-s.hub.broadcast
	}()

	s.broadcastJSON(map[string]string{"type": "status"})
	s.broadcastProgress(pipeline.ProgressUpdate{Type: "complete"})

	for i := 0; i < 2; i++ {
		select {
		case msg := <-done:
			if len(msg) == 0 {
				t.Fatal("expected broadcast payload")
			}
		case <-time.After(1 * time.Second):
			t.Fatal("timed out waiting broadcast")
		}
	}
}

// TestHandleWebSocket_UpgradeFailurePath checks a non-websocket request fails.
func TestHandleWebSocket_UpgradeFailurePath(t *testing.T) {
	s := &Server{hub: NewHub()}
	req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	rr := httptest.NewRecorder()

	s.handleWebSocket(rr, req)

	if rr.Code == http.StatusOK {
		t.Fatalf("expected non-200 response for invalid websocket handshake, got %d", rr.Code)
	}
}

// TestMetricsEndpoint checks observed results are exported.
func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.Observe(types.Result{
		Status:      types.ResultProcessed,
		ContentType: "RASTER",
		Written:     []string{"a", "b"},
		Duration:    5 * time.Millisecond,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `hsextract_events_total{content_type="RASTER",status="processed"} 1`) {
		t.Fatalf("missing events counter: %s", body)
	}
	if !strings.Contains(body, `hsextract_documents_total{op="written"} 2`) {
		t.Fatalf("missing documents counter: %s", body)
	}
}
