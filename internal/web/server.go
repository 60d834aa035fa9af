package web

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/hydroshare/hsextract/internal/events"
	"github.com/hydroshare/hsextract/internal/log"
	"github.com/hydroshare/hsextract/internal/pipeline"
	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
)

type Options struct {
	// Dedupe suppresses repeated webhook notifications. Nil disables it.
	Dedupe *events.Deduper
	// StateFile is the reindex ledger; empty reindexes everything.
	StateFile string
	Logger    *log.Logger
}

type Server struct {
	router   *mux.Router
	hub      *Hub
	version  string
	pipeline *pipeline.Pipeline
	store    storage.Store
	dedupe   *events.Deduper
	metrics  *Metrics
	logger   *log.Logger

	stateFile  string
	reindexing sync.Mutex
}

func NewServer(p *pipeline.Pipeline, store storage.Store, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	s := &Server{
		router:    mux.NewRouter(),
		hub:       NewHub(),
		version:   "unknown",
		pipeline:  p,
		store:     store,
		dedupe:    opts.Dedupe,
		metrics:   NewMetrics(),
		logger:    logger,
		stateFile: opts.StateFile,
	}

	go s.hub.Run()

	if p != nil {
		p.SetProgressCallback(s.broadcastProgress)
	}
	s.setupRoutes()
	return s
}

func (s *Server) SetVersion(v string) {
	s.version = v
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/version", s.handleVersion).Methods("GET")
	api.HandleFunc("/events", s.handleEvents).Methods("POST")
	api.HandleFunc("/process", s.handleProcess).Methods("POST")
	api.HandleFunc("/reindex", s.handleReindex).Methods("POST")
	api.HandleFunc("/documents", s.handleDocument).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket)

	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

// Observe records a handled event and streams it to websocket clients. It
// matches pipeline.ResultHandler.
func (s *Server) Observe(result types.Result, err error) {
	s.metrics.Observe(result)
	s.broadcastJSON(ResultMessage{Type: "result", Result: result})
}

// Close stops the websocket hub.
func (s *Server) Close() {
	s.hub.Stop()
}

func (s *Server) Start(addr string) error {
	fmt.Printf("Starting hsextract server at http://%s\n", addr)
	return http.ListenAndServe(addr, s.router)
}
