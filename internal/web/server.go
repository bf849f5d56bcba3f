// Package web exposes the generated documents over HTTP, read-only: the
// feed index, the heartbeat, and each alert's document and audio. It never
// writes to the store and answers 404 for anything missing.
package web

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cctl/boiler/internal/config"
	"github.com/cctl/boiler/internal/feed"
	"github.com/cctl/boiler/internal/store"
)

const notFoundBody = "<error>File not found</error>"

// Server serves the published documents from the alert store.
type Server struct {
	cfg     config.Config
	store   *store.Store
	metrics http.Handler
	logger  zerolog.Logger
}

// New creates a document server. metrics may be nil to disable /metrics.
func New(cfg config.Config, st *store.Store, metrics http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		metrics: metrics,
		logger:  logger.With().Str("component", "web").Logger(),
	}
}

// Router builds the read-only route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc(s.cfg.Web.FeedSuffix, s.handleFeed).Methods(http.MethodGet)
	r.HandleFunc(s.cfg.Web.UpdateSuffix, s.handleHeartbeat).Methods(http.MethodGet)
	r.HandleFunc(s.cfg.Web.AlertsSuffix+"/{id}/"+store.DocumentFile, s.handleDocument).Methods(http.MethodGet)
	r.HandleFunc(s.cfg.Web.AlertsSuffix+"/{id}/"+store.AudioFile, s.handleAudio(store.AudioFile)).Methods(http.MethodGet)
	r.HandleFunc(s.cfg.Web.AlertsSuffix+"/{id}/"+store.SourceAudioFile, s.handleAudio(store.SourceAudioFile)).Methods(http.MethodGet)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	return r
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, filepath.Join(s.store.Root(), feed.IndexFile), "application/xml")
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, filepath.Join(s.store.Root(), feed.HeartbeatFile), "application/xml")
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := safeID(mux.Vars(r)["id"])
	if !ok {
		s.notFound(w)
		return
	}
	s.serveFile(w, filepath.Join(s.store.EntryDir(id), store.DocumentFile), "application/xml")
}

func (s *Server) handleAudio(file string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := safeID(mux.Vars(r)["id"])
		if !ok {
			s.notFound(w)
			return
		}
		s.serveFile(w, filepath.Join(s.store.EntryDir(id), file), "audio/mpeg")
	}
}

// safeID rejects identifiers that could escape the store root.
func safeID(id string) (string, bool) {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, "/\\") {
		return "", false
	}
	return id, true
}

func (s *Server) serveFile(w http.ResponseWriter, path, contentType string) {
	f, err := os.Open(path)
	if err != nil {
		s.notFound(w)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to stream file to client")
	}
}

func (s *Server) notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, notFoundBody)
}
