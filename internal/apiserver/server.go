// Package apiserver is a thin gorilla/mux JSON adapter over the registry
// and supervisor, mirroring the original tty-fwd server's
// success/message/error response envelope.
package apiserver

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/ttyfwd/ttyfwd/internal/config"
	"github.com/ttyfwd/ttyfwd/internal/ptysup"
	"github.com/ttyfwd/ttyfwd/internal/registry"
)

// Response is the JSON envelope of every error reply and of the create,
// delete, input, signal, and cleanup handlers. List and get reply with the
// session entries themselves; snapshot replies with the raw transcript.
type Response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Server wires the registry's operations to HTTP routes.
type Server struct {
	cfg    *config.Config
	router *mux.Router
}

// New builds a Server with all routes registered.
func New(cfg *config.Config) *Server {
	s := &Server{cfg: cfg, router: mux.NewRouter()}
	s.routes()
	s.RegisterWebSocket()
	return s
}

// Handler returns the http.Handler to mount or serve directly.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/input", s.handleInput).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/signal", s.handleSignal).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/cleanup", s.handleCleanupAll).Methods(http.MethodPost)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ttyfwd: encode response: %v", err)
	}
}

// statusForError maps the registry's typed errors onto the error taxonomy
// the HTTP adapter promises: BadSessionId -> 404, SessionLive -> 409,
// FifoMissing -> 409, anything else -> 500.
func statusForError(err error) int {
	switch err.(type) {
	case *registry.ErrBadSessionID:
		return http.StatusNotFound
	case *registry.ErrSessionLive:
		return http.StatusConflict
	case *registry.ErrFifoMissing:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), Response{Success: false, Error: err.Error()})
}

type sessionListEntry struct {
	ID           string      `json:"id"`
	Info         interface{} `json:"info"`
	LastModified *time.Time  `json:"lastModified,omitempty"`
	StreamOut    string      `json:"streamOutPath"`
	Stdin        string      `json:"stdinPath"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := registry.List(s.cfg.ControlRoot)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]sessionListEntry, 0, len(entries))
	for id, e := range entries {
		var lastModified *time.Time
		// last_modified is advisory-only per the registry's design notes:
		// it comes from the transcript's mtime, not the descriptor, and is
		// never treated as part of the core invariants.
		if fi, err := os.Stat(e.StreamOutPath); err == nil {
			mt := fi.ModTime()
			lastModified = &mt
		}
		out = append(out, sessionListEntry{
			ID:           id,
			Info:         e.Info,
			LastModified: lastModified,
			StreamOut:    e.StreamOutPath,
			Stdin:        e.StdinPath,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, err := registry.Get(s.cfg.ControlRoot, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type createRequest struct {
	Cmdline []string `json:"cmdline"`
	Name    string   `json:"name"`
	Cwd     string   `json:"cwd"`
	Term    string   `json:"term"`
}

// handleCreate spawns a session as the server process's own child. There
// is no caller terminal to attach to over HTTP, so the session runs
// TTY-less: it is recorded and replayable but never raw-mode interactive.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}
	if len(req.Cmdline) == 0 {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "cmdline is required"})
		return
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Error: err.Error()})
		return
	}

	if req.Term == "" {
		req.Term = s.cfg.DefaultTerm
	}

	sup, err := ptysup.New(ptysup.Options{
		ControlRoot: s.cfg.ControlRoot,
		Cmdline:     req.Cmdline,
		Name:        req.Name,
		Cwd:         req.Cwd,
		Term:        req.Term,
		DefaultCols: s.cfg.DefaultCols,
		DefaultRows: s.cfg.DefaultRows,
		Stdin:       devNull,
		Stdout:      io.Discard,
	})
	if err != nil {
		devNull.Close()
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Error: err.Error()})
		return
	}

	go func() {
		defer devNull.Close()
		if _, err := sup.Run(); err != nil {
			log.Printf("ttyfwd: session %s: %v", sup.ID(), err)
		}
	}()

	writeJSON(w, http.StatusCreated, Response{Success: true, SessionID: sup.ID()})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := registry.Cleanup(s.cfg.ControlRoot, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true})
}

type inputRequest struct {
	Text string `json:"text"`
	Key  string `json:"key"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	var err error
	switch {
	case req.Key != "":
		err = registry.SendKey(s.cfg.ControlRoot, id, req.Key)
	default:
		err = registry.SendText(s.cfg.ControlRoot, id, []byte(req.Text))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true})
}

type signalRequest struct {
	Signal int `json:"signal"`
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Signal == 0 {
		req.Signal = int(syscall.SIGTERM)
	}
	if err := registry.SendSignal(s.cfg.ControlRoot, id, syscall.Signal(req.Signal)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, err := registry.Get(s.cfg.ControlRoot, id)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := os.Open(entry.StreamOutPath)
	if err != nil {
		writeJSON(w, http.StatusOK, Response{Success: true, Message: ""})
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/x-ndjson")
	_, _ = io.Copy(w, f)
}

func (s *Server) handleCleanupAll(w http.ResponseWriter, r *http.Request) {
	if err := registry.Cleanup(s.cfg.ControlRoot, ""); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true})
}
