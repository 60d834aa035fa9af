package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hydroshare/hsextract/internal/document"
	"github.com/hydroshare/hsextract/internal/events"
	"github.com/hydroshare/hsextract/internal/pipeline"
	"github.com/hydroshare/hsextract/internal/state"
	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
)

const maxNotificationBytes = 4 << 20

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type APIErrorResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, APIErrorResponse{Message: message})
}

func writeValidationError(w http.ResponseWriter, field, message string) {
	writeJSON(w, http.StatusBadRequest, ValidationError{Field: field, Message: message})
}

// storageStatus maps a storage error to a status. Unavailable storage answers
// 503 so the sender retries.
func storageStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

type EventsResponse struct {
	Results []types.Result `json:"results"`
}

// handleEvents is the webhook target for bucket notifications. Events are
// processed before answering; a storage failure fails the whole delivery and
// only the events handled before it are remembered as delivered.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	evs, err := events.Decode(body)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}

	response := EventsResponse{Results: []types.Result{}}
	for _, ev := range evs {
		if s.dedupe.Seen(ev) {
			continue
		}
		result, err := s.pipeline.Handle(r.Context(), ev)
		s.Observe(result, err)
		if err != nil {
			writeAPIError(w, storageStatus(err), err.Error())
			return
		}
		s.dedupe.Mark(ev)
		response.Results = append(response.Results, result)
	}
	writeJSON(w, http.StatusOK, response)
}

type ProcessRequest struct {
	Path      string          `json:"path"`
	EventType types.EventType `json:"event_type"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Path == "" {
		writeValidationError(w, "path", "path is required")
		return
	}
	switch req.EventType {
	case "":
		req.EventType = types.EventPut
	case types.EventPut, types.EventDelete:
	default:
		writeValidationError(w, "event_type", fmt.Sprintf("unknown event type %q", req.EventType))
		return
	}

	result, err := s.pipeline.Handle(r.Context(), types.Event{Path: req.Path, Type: req.EventType})
	s.Observe(result, err)
	if err != nil {
		writeAPIError(w, storageStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type ReindexRequest struct {
	Bucket   string `json:"bucket"`
	Resource string `json:"resource"`
}

// handleReindex starts a reindex in the background. Progress is streamed to
// websocket clients; only one reindex runs at a time.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	var req ReindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Bucket == "" {
		writeValidationError(w, "bucket", "bucket is required")
		return
	}
	if req.Resource == "" {
		writeValidationError(w, "resource", "resource is required")
		return
	}
	if !s.reindexing.TryLock() {
		writeAPIError(w, http.StatusConflict, "reindex already running")
		return
	}

	var ledger *state.State
	if s.stateFile != "" {
		var err error
		if ledger, err = state.Load(s.stateFile); err != nil {
			s.reindexing.Unlock()
			writeAPIError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})

	go func() {
		defer s.reindexing.Unlock()
		defer func() {
			if r := recover(); r != nil {
				s.broadcastProgress(pipeline.ProgressUpdate{Type: "error", Error: fmt.Sprintf("Internal Server Error: %v", r)})
			}
		}()

		res := storage.Resource{Bucket: req.Bucket, ID: req.Resource}
		if _, err := s.pipeline.Reindex(context.Background(), res, ledger); err != nil {
			s.logger.Error("Reindex failed", err)
			s.broadcastProgress(pipeline.ProgressUpdate{Type: "error", Error: err.Error()})
		}
	}()
}

// handleDocument serves a stored JSON-LD document.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeValidationError(w, "path", "path is required")
		return
	}
	parsed, err := storage.ParsePath(p)
	if err != nil || parsed.Tree != storage.TreeJSONLD || parsed.Rel == "" {
		writeValidationError(w, "path", "path must name a document in the .hsjsonld tree")
		return
	}

	data, err := s.store.Get(r.Context(), parsed.String())
	if err != nil {
		writeAPIError(w, storageStatus(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", document.ContentType)
	w.Write(data)
}

type ResultMessage struct {
	Type   string       `json:"type"`
	Result types.Result `json:"result"`
}

func (s *Server) broadcastJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.hub.Broadcast(data)
}

func (s *Server) broadcastProgress(update pipeline.ProgressUpdate) {
	s.broadcastJSON(update)
}
