package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hydroshare/hsextract/internal/pipeline"
	"github.com/hydroshare/hsextract/pkg/types"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hub message")
	}
	return nil
}

// TestHub_DeliversResultMessages checks a handled event reaches every client.
func TestHub_DeliversResultMessages(t *testing.T) {
	h := startHub(t)
	s := &Server{hub: h}

	first := &Client{hub: h, send: make(chan []byte, 1)}
	second := &Client{hub: h, send: make(chan []byte, 1)}
	h.register <- first
	h.register <- second
	waitForHubClientCount(t, h, 2)

	s.broadcastJSON(ResultMessage{Type: "result", Result: types.Result{
		Event:       types.Event{Path: testResource.Content("dem.tif"), Type: types.EventPut},
		Status:      types.ResultDegraded,
		ContentType: "RASTER",
		Written:     []string{testResource.FileDocument("dem.tif")},
	}})

	for _, c := range []*Client{first, second} {
		var msg ResultMessage
		if err := json.Unmarshal(receive(t, c.send), &msg); err != nil {
			t.Fatalf("failed to decode result message: %v", err)
		}
		if msg.Type != "result" || msg.Result.ContentType != "RASTER" || msg.Result.Status != types.ResultDegraded {
			t.Fatalf("unexpected result message: %+v", msg)
		}
		if len(msg.Result.Written) != 1 || msg.Result.Written[0] != testResource.FileDocument("dem.tif") {
			t.Fatalf("unexpected written documents: %v", msg.Result.Written)
		}
	}

	h.unregister <- first
	waitForHubClientCount(t, h, 1)
	if _, ok := <-first.send; ok {
		t.Fatal("expected unregistered client channel to be closed")
	}
}

// TestHub_DropsSlowClient checks a client that cannot take a progress update
// is disconnected.
func TestHub_DropsSlowClient(t *testing.T) {
	h := startHub(t)
	s := &Server{hub: h}

	blocked := &Client{hub: h, send: make(chan []byte)}
	h.register <- blocked
	waitForHubClientCount(t, h, 1)

	s.broadcastProgress(pipeline.ProgressUpdate{Type: "progress", Current: 1, Total: 3})
	waitForHubClientCount(t, h, 0)
}

// TestHub_StopEndsRunAndClosesClients checks Stop releases the hub goroutine.
func TestHub_StopEndsRunAndClosesClients(t *testing.T) {
	h := NewHub()
	stopped := make(chan struct{})
	go func() {
		h.Run()
		close(stopped)
	}()

	client := &Client{hub: h, send: make(chan []byte, 1)}
	h.register <- client
	waitForHubClientCount(t, h, 1)

	h.Stop()
	h.Stop()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if _, ok := <-client.send; ok {
		t.Fatal("expected client channel to be closed on stop")
	}

	done := make(chan struct{})
	go func() {
		h.Broadcast([]byte("late"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a stopped hub")
	}
}

// TestWebSocket_StreamsProcessResult checks /api/process results are pushed to
// websocket clients.
func TestWebSocket_StreamsProcessResult(t *testing.T) {
	s := newTestServer(t)
	putObject(t, s, testResource.Content("notes.txt"), "notes")

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	waitForHubClientCount(t, s.hub, 1)

	rr := serve(s, http.MethodPost, "/api/process", `{"path": "bucket/rid/data/contents/notes.txt"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var msg ResultMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read websocket message: %v", err)
	}
	if msg.Type != "result" || msg.Result.Event.Path != testResource.Content("notes.txt") {
		t.Fatalf("unexpected websocket message: %+v", msg)
	}
	if msg.Result.Status != types.ResultProcessed {
		t.Fatalf("unexpected status: %s", msg.Result.Status)
	}
}

func waitForHubClientCount(t *testing.T, h *Hub, expected int) {
	t.Helper()
	waitUntil(t, 2*time.Second, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.clients) == expected
	})
}

func waitUntil(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

// TestServerStart_ReturnsErrorOnInvalidAddress checks listen errors surface.
func TestServerStart_ReturnsErrorOnInvalidAddress(t *testing.T) {
	s := newTestServer(t)
	if err := s.Start("://bad-address"); err == nil {
		t.Fatal("expected listen error for invalid address")
	}
}
